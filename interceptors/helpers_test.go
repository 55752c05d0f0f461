package interceptors

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/credentials"
)

const (
	locusDefault = "https://locus-a.wbx2.com/locus/api/v1"
	locusP1      = "https://locus-a1.wbx2.com/locus/api/v1"
	locusP2      = "https://locus-a2.wbx2.com/locus/api/v1"
	convDefault  = "https://conv-a.wbx2.com/conversation/api/v1"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c := catalog.New(core.CatalogConfig{NoPriorityHostsPolicy: core.NoPriorityHostsDefaultURL})
	err := c.Update(catalog.TierPostAuth, catalog.DiscoveryPayload{
		ServiceLinks: map[string]string{
			"locus":        locusDefault,
			"conversation": convDefault,
		},
		HostCatalog: map[string][]catalog.DiscoveryHost{
			"locus-a.wbx2.com": {
				{ID: "urn:TEAM:us-east-2_a:locus", Priority: 1, Host: "locus-a1.wbx2.com"},
				{ID: "urn:TEAM:us-east-2_a:locus", Priority: 2, Host: "locus-a2.wbx2.com"},
			},
			"conv-a.wbx2.com": {
				{ID: "urn:TEAM:us-east-2_a:conversation", Priority: 1, Host: "conv-a.wbx2.com"},
			},
		},
	})
	if err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return c
}

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Auth.AllowedDomains = []string{"webexapis.com"}
	cfg.Auth.ServiceWait = 30 * time.Millisecond
	cfg.Catalog.HAServices = []string{"locus"}
	cfg.Credentials.TokenURL = "https://idbroker.webex.com/idb/oauth2/v1/access_token"
	cfg.Credentials.AuthorizeURL = "https://idbroker.webex.com/idb/oauth2/v1/authorize"
	return cfg
}

type sentRequest struct {
	URI                  string
	Headers              http.Header
	RedirectCount        int
	ServiceRedirectCount int
	ReplayCount          int
	TrackingID           string
}

// scriptedTransport answers each call through respond and records a
// snapshot of every request it saw.
type scriptedTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	respond func(attempt int, req *core.Request) (*core.Response, error)
}

func (s *scriptedTransport) Do(_ context.Context, req *core.Request) (*core.Response, error) {
	s.mu.Lock()
	attempt := len(s.sent)
	s.sent = append(s.sent, sentRequest{
		URI:                  req.URI,
		Headers:              req.Headers.Clone(),
		RedirectCount:        req.RedirectCount,
		ServiceRedirectCount: req.ServiceRedirectCount,
		ReplayCount:          req.ReplayCount,
		TrackingID:           req.TrackingID,
	})
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return respondWith(http.StatusOK, nil, `{}`), nil
	}
	return respond(attempt, req)
}

func (s *scriptedTransport) requests() []sentRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentRequest(nil), s.sent...)
}

func respondWith(status int, headers http.Header, body string) *core.Response {
	if headers == nil {
		headers = http.Header{}
	}
	return &core.Response{StatusCode: status, Headers: headers, Body: []byte(body)}
}

type fakeCredentials struct {
	mu          sync.Mutex
	token       string
	refreshable bool
	refreshes   int
	invalidated int
	tokenErr    error
	refreshErr  error
}

func (f *fakeCredentials) GetUserToken(context.Context, string) (*credentials.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return nil, f.tokenErr
	}
	return &credentials.Token{AccessToken: f.token, TokenType: "Bearer"}, nil
}

func (f *fakeCredentials) IsRefreshable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshable
}

func (f *fakeCredentials) Refresh(context.Context) (*credentials.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	f.refreshes++
	f.token = fmt.Sprintf("token-%d", f.refreshes)
	return &credentials.Token{AccessToken: f.token, TokenType: "Bearer"}, nil
}

func (f *fakeCredentials) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.token = ""
	return nil
}

type fakeDevices struct {
	cleared int
}

func (d *fakeDevices) Clear(context.Context) error {
	d.cleared++
	return nil
}

type recordingMetrics struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]int
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *recordingMetrics) ObserveHistogram(_ context.Context, name string, _ float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.histograms == nil {
		m.histograms = map[string]int{}
	}
	m.histograms[name]++
}

func (m *recordingMetrics) counter(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level string, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
}

func (l *recordingLogger) Trace(msg string, _ ...any) { l.record("trace", msg) }
func (l *recordingLogger) Debug(msg string, _ ...any) { l.record("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }
func (l *recordingLogger) Fatal(msg string, _ ...any) { l.record("fatal", msg) }
func (l *recordingLogger) WithContext(context.Context) core.Logger {
	return l
}

func (l *recordingLogger) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func newTestPipeline(t *testing.T, transport core.Transport, interceptors ...Interceptor) *Pipeline {
	t.Helper()
	pipeline, err := NewPipeline(transport, interceptors...)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return pipeline
}

func catalogPayload(name string, defaultURL string) catalog.DiscoveryPayload {
	return catalog.DiscoveryPayload{ServiceLinks: map[string]string{name: defaultURL}}
}
