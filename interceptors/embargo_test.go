package interceptors

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/goliatone/go-collab/core"
)

func TestEmbargo_WipesCredentialsAndDevice(t *testing.T) {
	creds := &fakeCredentials{token: "abc"}
	devices := &fakeDevices{}
	transport := &scriptedTransport{respond: func(int, *core.Request) (*core.Response, error) {
		return respondWith(http.StatusUnavailableForLegalReasons, nil, ""), nil
	}}
	pipeline := newTestPipeline(t, transport, NewEmbargo(creds, devices, core.Telemetry{}))

	_, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1))
	if !errors.Is(err, core.ErrEmbargoed) {
		t.Fatalf("expected embargo error, got %v", err)
	}
	if mapped := core.ToServiceError(err); mapped.TextCode != core.ErrorEmbargoed {
		t.Fatalf("unexpected text code %q", mapped.TextCode)
	}
	if creds.invalidated != 1 || devices.cleared != 1 {
		t.Fatalf("expected cleanup, got invalidated=%d cleared=%d", creds.invalidated, devices.cleared)
	}
}

func TestEmbargo_IgnoresOtherStatuses(t *testing.T) {
	creds := &fakeCredentials{token: "abc"}
	transport := &scriptedTransport{respond: func(int, *core.Request) (*core.Response, error) {
		return respondWith(http.StatusForbidden, nil, ""), nil
	}}
	pipeline := newTestPipeline(t, transport, NewEmbargo(creds, nil, core.Telemetry{}))

	_, err := pipeline.Do(context.Background(), core.NewRequest(http.MethodGet, locusP1))
	if errors.Is(err, core.ErrEmbargoed) || creds.invalidated != 0 {
		t.Fatalf("expected 403 untouched, got %v", err)
	}
}
