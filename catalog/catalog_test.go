package catalog

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-collab/core"
)

func newTestCatalog() *Catalog {
	return New(core.DefaultConfig().Catalog)
}

func TestCatalogUpdate_MarksReadyAndResolvesServices(t *testing.T) {
	c := newTestCatalog()
	if c.IsReady(TierPostAuth) {
		t.Fatalf("expected tier to start not ready")
	}
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !c.IsReady(TierPostAuth) {
		t.Fatalf("expected tier ready after update")
	}
	if got, ok := c.Get("locus", false, ""); !ok || got != locusDefault {
		t.Fatalf("expected default locus url, got %q", got)
	}
	if got, ok := c.Get("locus", true, TierPostAuth); !ok || got != locusP1 {
		t.Fatalf("expected priority locus url, got %q", got)
	}
	if _, ok := c.Get("locus", false, TierPreAuth); ok {
		t.Fatalf("expected miss for tier without content")
	}
	if name, ok := c.FindServiceName(locusP2 + "/loci/1"); !ok || name != "locus" {
		t.Fatalf("expected locus for host url, got %q", name)
	}
	if !c.IsServiceURL(convDefault + "/activities") {
		t.Fatalf("expected conversation url to be a service url")
	}
	if c.IsServiceURL("https://conv-a.wbx2.com/conversationx") {
		t.Fatalf("expected partial path segment not to match")
	}
}

func TestCatalogUpdate_ReplacesPreviousHosts(t *testing.T) {
	c := newTestCatalog()
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	next := DiscoveryPayload{
		ServiceLinks: map[string]string{"locus": locusDefault},
		HostCatalog: map[string][]DiscoveryHost{
			"locus-a.wbx2.com": {{ID: "urn:TEAM:us-east-2_a:locus", Priority: 1, Host: "locus-z.wbx2.com"}},
		},
	}
	if err := c.Update(TierPostAuth, next); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if got := c.Map()["locus"]; got != "https://locus-z.wbx2.com/locus/api/v1" {
		t.Fatalf("expected new host to win, got %q", got)
	}
	replaced := c.Registry().Find(Filter{Active: Bool(false)})
	if len(replaced) == 0 {
		t.Fatalf("expected superseded hosts kept as replaced")
	}
	for _, host := range replaced {
		if !host.Replaced {
			t.Fatalf("expected replaced flag on %s", host.URL())
		}
	}
	if _, ok := c.Get("conversation", false, TierPostAuth); ok {
		t.Fatalf("expected conversation dropped by the newer catalog")
	}
}

func TestCatalogMarkFailedURL_ScenarioA(t *testing.T) {
	c := newTestCatalog()
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := c.Map()["locus"]; got != locusP1 {
		t.Fatalf("expected priority 1, got %q", got)
	}
	if next, ok := c.MarkFailedURL(locusP1); !ok || next != locusP2 {
		t.Fatalf("expected priority 2 after first failure, got %q", next)
	}
	if got, _ := c.Get("locus", true, ""); got != locusP2 {
		t.Fatalf("expected service url to follow failover, got %q", got)
	}
	if next, ok := c.MarkFailedURL(locusP2); !ok || next != locusDefault {
		t.Fatalf("expected default url once all failed, got %q", next)
	}
	if got := c.Map()["locus"]; got != locusP1 {
		t.Fatalf("expected reset to priority 1, got %q", got)
	}
	if got, _ := c.Get("locus", true, ""); got != locusP1 {
		t.Fatalf("expected service url hosts reset, got %q", got)
	}
}

func TestCatalogMarkFailedURL_FailsHostInEveryTier(t *testing.T) {
	c := newTestCatalog()
	for _, tier := range []Tier{TierPreAuth, TierPostAuth} {
		if err := c.Update(tier, locusPayload()); err != nil {
			t.Fatalf("update %s: %v", tier, err)
		}
	}
	next, ok := c.MarkFailedURL(locusP1 + "/loci/123")
	if !ok || next != locusP2 {
		t.Fatalf("expected failover to priority 2, got %q (%v)", next, ok)
	}
	if got := c.Map()["locus"]; got != locusP2 {
		t.Fatalf("expected map to drop the failed host, got %q", got)
	}
	for _, tier := range []Tier{TierPreAuth, TierPostAuth, ""} {
		if got, _ := c.Get("locus", true, tier); got != locusP2 {
			t.Fatalf("tier %q: expected priority 2, got %q", tier, got)
		}
	}
}

func TestCatalogMarkFailedURL_FallsBackToRemoteCluster(t *testing.T) {
	c := newTestCatalog()
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	convK := "https://conv-k.wbx2.com/conversation/api/v1"
	if got, _ := c.Get("conversation", true, ""); got != convDefault {
		t.Fatalf("expected home cluster host first, got %q", got)
	}
	next, ok := c.MarkFailedURL(convDefault + "/activities")
	if !ok || next != convK {
		t.Fatalf("expected remote cluster failover, got %q (%v)", next, ok)
	}
	for attempt := 0; attempt < 3; attempt++ {
		if got, _ := c.Get("conversation", true, ""); got != convK {
			t.Fatalf("read %d: expected remote cluster host, got %q", attempt, got)
		}
	}
	if got := c.List(true, "")["conversation"]; got != convK {
		t.Fatalf("expected list to follow failover, got %q", got)
	}
	if hosts := c.Registry().Find(Filter{Services: []string{"conversation"}, Active: Bool(false)}); len(hosts) != 1 {
		t.Fatalf("expected the failed host to stay failed, got %+v", hosts)
	}
}

func TestCatalogMarkFailedURL_KeepsFlagsWhenNextIsDefaultAuthority(t *testing.T) {
	c := newTestCatalog()
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	next, ok := c.MarkFailedURL("https://conv-k.wbx2.com/conversation/api/v1/activities")
	if !ok || next != convDefault {
		t.Fatalf("expected home host, got %q (%v)", next, ok)
	}
	var conversation ServiceURL
	for _, service := range c.ServiceURLs(TierPostAuth) {
		if service.Name == "conversation" {
			conversation = service
		}
	}
	failed := 0
	for _, host := range conversation.Hosts {
		if host.Failed {
			if host.Host != "conv-k.wbx2.com" {
				t.Fatalf("unexpected failed host %q", host.Host)
			}
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected conv-k to stay failed, got %+v", conversation.Hosts)
	}
}

func TestCatalogWaitForCatalog(t *testing.T) {
	c := newTestCatalog()
	err := c.WaitForCatalog(context.Background(), TierPostAuth, 20*time.Millisecond)
	if !core.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForCatalog(context.Background(), TierPostAuth, time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	if err := c.MarkReady(TierPostAuth); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected waiter released, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter not released")
	}

	if err := c.MarkReady(TierPostAuth); err != nil {
		t.Fatalf("second mark ready must be a no-op: %v", err)
	}
	if err := c.ClearTier(TierPostAuth); err != nil {
		t.Fatalf("clear tier: %v", err)
	}
	if c.IsReady(TierPostAuth) {
		t.Fatalf("expected explicit clear to reset readiness")
	}
	if err := c.WaitForCatalog(context.Background(), Tier("nope"), time.Millisecond); err == nil {
		t.Fatalf("expected invalid tier error")
	}
}

func TestCatalogWaitForCatalog_ContextCancel(t *testing.T) {
	c := newTestCatalog()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.WaitForCatalog(ctx, TierSignin, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestCatalogWaitForService(t *testing.T) {
	c := newTestCatalog()
	if _, err := c.WaitForService(context.Background(), "locus", 20*time.Millisecond); !core.IsTimeout(err) {
		t.Fatalf("expected timeout for missing service, got %v", err)
	}

	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		resolved, err := c.WaitForService(context.Background(), locusDefault+"/loci", time.Second)
		done <- result{resolved, err}
	}()
	time.Sleep(10 * time.Millisecond)
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	select {
	case got := <-done:
		if got.err != nil || got.url != locusDefault+"/loci" {
			t.Fatalf("unexpected wait result %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("service waiter not released")
	}
	if resolved, err := c.WaitForService(context.Background(), "conversation", time.Millisecond); err != nil || resolved != convDefault {
		t.Fatalf("expected immediate resolution, got %q (%v)", resolved, err)
	}
}

func TestCatalogListPrefersBetterTier(t *testing.T) {
	c := newTestCatalog()
	if err := c.Update(TierPreAuth, DiscoveryPayload{ServiceLinks: map[string]string{
		"locus": "https://pre.example.com/locus",
		"u2c":   "https://u2c.example.com/u2c/api/v1",
	}}); err != nil {
		t.Fatalf("update preauth: %v", err)
	}
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update postauth: %v", err)
	}
	listed := c.List(false, "")
	if listed["locus"] != locusDefault {
		t.Fatalf("expected postauth to win, got %q", listed["locus"])
	}
	if listed["u2c"] != "https://u2c.example.com/u2c/api/v1" {
		t.Fatalf("expected preauth-only service listed")
	}
}

func TestCatalogLoadOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "override.yaml")
	content := strings.Join([]string{
		"serviceLinks:",
		"  locus: https://locus.local.test/locus/api/v1",
		"hostCatalog:",
		"  locus.local.test:",
		"    - id: urn:TEAM:local:locus",
		"      priority: 1",
		"      host: locus.local.test:8443",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write override: %v", err)
	}
	c := newTestCatalog()
	if err := c.Update(TierPostAuth, locusPayload()); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := c.LoadOverrideFile(path); err != nil {
		t.Fatalf("load override: %v", err)
	}
	if got, _ := c.Get("locus", true, ""); got != "https://locus.local.test:8443/locus/api/v1" {
		t.Fatalf("expected override tier to win, got %q", got)
	}
	if err := c.LoadOverrideFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestDiscoverer_FetchesAndUpdates(t *testing.T) {
	c := newTestCatalog()
	var seen *core.Request
	transport := core.TransportFunc(func(_ context.Context, req *core.Request) (*core.Response, error) {
		seen = req
		return &core.Response{
			StatusCode: http.StatusOK,
			Body: []byte(`{"serviceLinks":{"locus":"` + locusDefault + `"},` +
				`"hostCatalog":{"locus-a.wbx2.com":[{"id":"urn:TEAM:us-east-2_a:locus","priority":1,"host":"locus-a1.wbx2.com"}]}}`),
			Request: req,
		}, nil
	})
	discoverer := &Discoverer{Catalog: c, Transport: transport, URL: "https://u2c.wbx2.com/u2c/api/v1/catalog"}
	payload, err := discoverer.Discover(context.Background(), TierPreAuth, map[string][]string{"email": {"a@example.com"}})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(payload.ServiceLinks) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !strings.Contains(seen.URI, "format=hostmap") || !strings.Contains(seen.URI, "email=a%40example.com") {
		t.Fatalf("unexpected discovery uri %q", seen.URI)
	}
	if seen.AddAuthHeader == nil || *seen.AddAuthHeader {
		t.Fatalf("expected pre-auth discovery to suppress the authorization header")
	}
	if got := c.Map()["locus"]; got != locusP1 {
		t.Fatalf("expected discovered host in registry, got %q", got)
	}

	failing := &Discoverer{Catalog: c, URL: discoverer.URL, Transport: core.TransportFunc(func(_ context.Context, req *core.Request) (*core.Response, error) {
		return &core.Response{StatusCode: http.StatusBadGateway, Request: req}, nil
	})}
	_, err = failing.Discover(context.Background(), TierPreAuth, nil)
	if httpErr, ok := core.HTTPErrorFrom(err); !ok || httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected http error, got %v", err)
	}
}

func TestServiceURLPriorityHostURL_RemoteFallbackWithoutReset(t *testing.T) {
	service := ServiceURL{
		Name:       "conversation",
		DefaultURL: convDefault,
		Hosts: []HostRecord{
			{Host: "conv-a.wbx2.com", Priority: 5, HomeCluster: true, Failed: true},
			{Host: "conv-k.wbx2.com", Priority: 1},
		},
	}
	if got := service.PriorityHostURL(); got != "https://conv-k.wbx2.com/conversation/api/v1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	service.FailHost("https://conv-k.wbx2.com/conversation/api/v1/activities")
	if got := service.Get(true); got != convDefault {
		t.Fatalf("expected default url with every host failed, got %q", got)
	}
	if !service.Hosts[0].Failed || !service.Hosts[1].Failed {
		t.Fatalf("expected a read to leave failed flags alone, got %+v", service.Hosts)
	}
}
