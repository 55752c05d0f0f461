package interceptors

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-collab/catalog"
	"github.com/goliatone/go-collab/core"
)

func newAuthPipeline(t *testing.T, cfg core.Config, transport core.Transport, creds *fakeCredentials) *Pipeline {
	t.Helper()
	return newTestPipeline(t, transport,
		NewTracking(cfg.SessionName),
		NewAuth(cfg.Auth, testCatalog(t), creds, core.Telemetry{}),
	)
}

func TestAuth_InjectsHeaderForCatalogAndAllowedDomains(t *testing.T) {
	transport := &scriptedTransport{}
	pipeline := newAuthPipeline(t, testConfig(), transport, &fakeCredentials{token: "abc"})

	for _, uri := range []string{locusP1 + "/loci", "https://api.webexapis.com/v1/people/me"} {
		if _, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, uri)); err != nil {
			t.Fatalf("do %s: %v", uri, err)
		}
	}
	for _, sent := range transport.requests() {
		if got := sent.Headers.Get(core.HeaderAuthorization); got != "Bearer abc" {
			t.Fatalf("expected auth header on %s, got %q", sent.URI, got)
		}
	}
}

func TestAuth_RespectsExplicitHeaderAndSuppression(t *testing.T) {
	transport := &scriptedTransport{}
	pipeline := newAuthPipeline(t, testConfig(), transport, &fakeCredentials{token: "abc"})

	explicit := core.NewRequest(http.MethodGet, locusP1)
	explicit.SetHeader(core.HeaderAuthorization, "Basic creds")
	suppressed := core.NewRequest(http.MethodGet, locusP1)
	suppressed.AddAuthHeader = core.BoolPtr(false)
	forced := core.NewRequest(http.MethodGet, "https://unknown.example.org/x")
	forced.AddAuthHeader = core.BoolPtr(true)

	for _, req := range []*core.Request{explicit, suppressed, forced} {
		if _, err := pipeline.Do(context.Background(), req); err != nil {
			t.Fatalf("do: %v", err)
		}
	}
	sent := transport.requests()
	if got := sent[0].Headers.Get(core.HeaderAuthorization); got != "Basic creds" {
		t.Fatalf("expected explicit header kept, got %q", got)
	}
	if got := sent[1].Headers.Get(core.HeaderAuthorization); got != "" {
		t.Fatalf("expected no header when suppressed, got %q", got)
	}
	if got := sent[2].Headers.Get(core.HeaderAuthorization); got != "Bearer abc" {
		t.Fatalf("expected forced header, got %q", got)
	}
}

func TestAuth_UnknownServiceProceedsWithoutHeaderAfterWait(t *testing.T) {
	cfg := testConfig()
	transport := &scriptedTransport{}
	pipeline := newAuthPipeline(t, cfg, transport, &fakeCredentials{token: "abc"})

	started := time.Now()
	res, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, "https://unknown.example.org/x"))
	if err != nil {
		t.Fatalf("expected request to proceed, got %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if elapsed := time.Since(started); elapsed < cfg.Auth.ServiceWait {
		t.Fatalf("expected the service wait to elapse, took %s", elapsed)
	}
	if got := transport.requests()[0].Headers.Get(core.HeaderAuthorization); got != "" {
		t.Fatalf("expected no auth header, got %q", got)
	}
}

func TestAuth_ServiceAppearingDuringWaitGetsHeader(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.ServiceWait = 2 * time.Second
	cat := testCatalog(t)
	transport := &scriptedTransport{}
	pipeline := newTestPipeline(t, transport, NewAuth(cfg.Auth, cat, &fakeCredentials{token: "abc"}, core.Telemetry{}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = cat.Update(catalog.TierSignin, catalogPayload("hydra", "https://hydra-a.example.org/hydra/api/v1"))
	}()
	if _, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, "https://hydra-a.example.org/hydra/api/v1/x")); err != nil {
		t.Fatalf("do: %v", err)
	}
	if got := transport.requests()[0].Headers.Get(core.HeaderAuthorization); got != "Bearer abc" {
		t.Fatalf("expected auth header once the service appeared, got %q", got)
	}
}

func TestAuth_TokenFailureRejectsRequest(t *testing.T) {
	transport := &scriptedTransport{}
	pipeline := newAuthPipeline(t, testConfig(), transport, &fakeCredentials{tokenErr: &core.ReauthRequiredError{}})

	_, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1))
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("expected reauth error, got %v", err)
	}
	if len(transport.requests()) != 0 {
		t.Fatalf("expected no network call")
	}
}

func TestAuth_UnauthorizedReplaysUpToCeiling(t *testing.T) {
	for _, maxReplays := range []int{1, 3} {
		cfg := testConfig()
		cfg.Auth.MaxReplays = maxReplays
		creds := &fakeCredentials{token: "stale", refreshable: true}
		transport := &scriptedTransport{respond: func(int, *core.Request) (*core.Response, error) {
			return respondWith(http.StatusUnauthorized, nil, `{"message":"token expired"}`), nil
		}}
		pipeline := newAuthPipeline(t, cfg, transport, creds)

		_, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1+"/loci"))
		if !errors.Is(err, core.ErrMaxReplays) {
			t.Fatalf("max %d: expected max replays error, got %v", maxReplays, err)
		}
		if httpErr, ok := core.HTTPErrorFrom(err); !ok || httpErr.StatusCode != http.StatusUnauthorized {
			t.Fatalf("max %d: expected 401 cause preserved, got %v", maxReplays, err)
		}
		sent := transport.requests()
		if len(sent) != maxReplays+1 {
			t.Fatalf("max %d: expected %d attempts, got %d", maxReplays, maxReplays+1, len(sent))
		}
		if creds.refreshes != maxReplays {
			t.Fatalf("max %d: expected %d refreshes, got %d", maxReplays, maxReplays, creds.refreshes)
		}
		for idx, request := range sent {
			if request.ReplayCount != idx {
				t.Fatalf("max %d: attempt %d carried replay count %d", maxReplays, idx, request.ReplayCount)
			}
		}
		if got := sent[len(sent)-1].Headers.Get(core.HeaderAuthorization); got != "Bearer token-"+itoa(maxReplays) {
			t.Fatalf("max %d: expected refreshed token on last replay, got %q", maxReplays, got)
		}
	}
}

func TestAuth_UnauthorizedRecoversAfterRefresh(t *testing.T) {
	creds := &fakeCredentials{token: "stale", refreshable: true}
	transport := &scriptedTransport{respond: func(_ int, req *core.Request) (*core.Response, error) {
		if req.Header(core.HeaderAuthorization) == "Bearer stale" {
			return respondWith(http.StatusUnauthorized, nil, ""), nil
		}
		return respondWith(http.StatusOK, nil, `{"ok":true}`), nil
	}}
	pipeline := newAuthPipeline(t, testConfig(), transport, creds)

	res, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1))
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if res.StatusCode != http.StatusOK || creds.refreshes != 1 {
		t.Fatalf("unexpected outcome %d after %d refreshes", res.StatusCode, creds.refreshes)
	}
	sent := transport.requests()
	if len(sent) != 2 || sent[1].TrackingID != sent[0].TrackingID+"_retry" {
		t.Fatalf("expected one replay sharing the tracking id, got %#v", sent)
	}
}

func TestAuth_NonRefreshableReplaysWithoutRefresh(t *testing.T) {
	creds := &fakeCredentials{token: "abc"}
	transport := &scriptedTransport{respond: func(attempt int, _ *core.Request) (*core.Response, error) {
		if attempt == 0 {
			return respondWith(http.StatusUnauthorized, nil, ""), nil
		}
		return respondWith(http.StatusOK, nil, ""), nil
	}}
	pipeline := newAuthPipeline(t, testConfig(), transport, creds)

	if _, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1)); err != nil {
		t.Fatalf("do: %v", err)
	}
	if creds.refreshes != 0 || len(transport.requests()) != 2 {
		t.Fatalf("expected replay without refresh, got %d refreshes %d attempts", creds.refreshes, len(transport.requests()))
	}
}

func TestAuth_NoReplayWhenRefreshDisabled(t *testing.T) {
	transport := &scriptedTransport{respond: func(int, *core.Request) (*core.Response, error) {
		return respondWith(http.StatusUnauthorized, nil, ""), nil
	}}
	pipeline := newAuthPipeline(t, testConfig(), transport, &fakeCredentials{token: "abc", refreshable: true})

	req := core.NewRequest(http.MethodGet, locusP1)
	req.ShouldRefreshAccessToken = false
	_, err := pipeline.Do(context.Background(), req)
	if httpErr, ok := core.HTTPErrorFrom(err); !ok || httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected raw 401, got %v", err)
	}
	if errors.Is(err, core.ErrMaxReplays) || len(transport.requests()) != 1 {
		t.Fatalf("expected no replay")
	}
}
