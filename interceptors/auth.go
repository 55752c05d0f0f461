package interceptors

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-collab/core"
)

// Auth injects the authorization header for catalog and allowed-domain
// targets and replays 401 responses after refreshing credentials.
type Auth struct {
	catalog        ServiceCatalog
	credentials    CredentialSource
	telemetry      core.Telemetry
	allowedDomains []string
	serviceWait    time.Duration
	maxReplays     int
}

func NewAuth(cfg core.AuthConfig, catalog ServiceCatalog, credentials CredentialSource, telemetry core.Telemetry) *Auth {
	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, domain := range cfg.AllowedDomains {
		domain = strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain != "" {
			domains = append(domains, domain)
		}
	}
	wait := cfg.ServiceWait
	if wait <= 0 {
		wait = core.DefaultServiceWaitTimeout
	}
	return &Auth{
		catalog:        catalog,
		credentials:    credentials,
		telemetry:      telemetry,
		allowedDomains: domains,
		serviceWait:    wait,
		maxReplays:     cfg.MaxReplays,
	}
}

func (*Auth) Name() string { return "auth" }

func (a *Auth) OnRequest(ctx context.Context, call *Call) error {
	req := call.Request
	if req.Header(core.HeaderAuthorization) != "" {
		return nil
	}
	if req.AddAuthHeader != nil && !*req.AddAuthHeader {
		return nil
	}
	required := req.AddAuthHeader != nil && *req.AddAuthHeader
	if !required {
		var err error
		if required, err = a.requiresCredentials(ctx, req); err != nil {
			return err
		}
	}
	if !required {
		return nil
	}
	token, err := a.credentials.GetUserToken(ctx, "")
	if err != nil {
		return err
	}
	req.SetHeader(core.HeaderAuthorization, token.String())
	return nil
}

// requiresCredentials matches the catalog first, then the allowed domains,
// then waits for the target to appear in the catalog. A wait that times out
// sends the request without credentials.
func (a *Auth) requiresCredentials(ctx context.Context, req *core.Request) (bool, error) {
	if a.catalog != nil && a.catalog.IsServiceURL(req.URI) {
		return true, nil
	}
	if a.isAllowedDomain(req.Host()) {
		return true, nil
	}
	if a.catalog == nil {
		return false, nil
	}
	if _, err := a.catalog.WaitForService(ctx, req.URI, a.serviceWait); err != nil {
		if core.IsTimeout(err) {
			a.telemetry.Debug(ctx, "auth skipped for unknown service", map[string]any{
				"uri":         req.URI,
				"wait_ms":     a.serviceWait.Milliseconds(),
				"tracking_id": req.TrackingID,
			})
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (a *Auth) isAllowedDomain(host string) bool {
	if host == "" {
		return false
	}
	for _, domain := range a.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func (a *Auth) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	httpErr, ok := core.HTTPErrorFrom(err)
	if !ok || httpErr.StatusCode != http.StatusUnauthorized || !call.Request.ShouldRefreshAccessToken {
		return nil, err
	}

	next := call.Request.Clone()
	next.ReplayCount++
	if next.ReplayCount > a.maxReplays {
		return nil, &core.MaxReplaysError{Limit: a.maxReplays, URL: call.Request.URI, Cause: err}
	}
	next.DeleteHeader(core.HeaderAuthorization)

	if a.credentials.IsRefreshable() {
		if _, refreshErr := a.credentials.Refresh(ctx); refreshErr != nil {
			return nil, errors.Join(err, refreshErr)
		}
	}
	a.telemetry.Counter(ctx, core.MetricAuthReplayTotal, 1, map[string]string{"replay": itoa(next.ReplayCount)})
	a.telemetry.Debug(ctx, "auth replaying unauthorized request", map[string]any{
		"uri":         next.URI,
		"replay":      next.ReplayCount,
		"tracking_id": next.TrackingID,
	})
	return call.Replay(ctx, next)
}
