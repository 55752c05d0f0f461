package interceptors

import (
	"context"
	"strings"

	"github.com/goliatone/go-collab/core"
)

// ServiceRedirectErrorCode marks an in-band resource migration redirect
// whose body carries the next location.
const ServiceRedirectErrorCode = 2000002

// Redirect enforces client side redirect policy. An explicit cisco-location
// header and an in-band migration body each have their own hop ceiling.
type Redirect struct {
	maxAppLevel int
	maxService  int
	exempt      []string
	telemetry   core.Telemetry
}

// NewRedirect exempts the given bootstrap URLs, typically the token and
// authorize endpoints, from redirect handling.
func NewRedirect(cfg core.RedirectConfig, telemetry core.Telemetry, exempt ...string) *Redirect {
	prefixes := make([]string, 0, len(exempt))
	for _, value := range exempt {
		if value = strings.TrimSpace(value); value != "" {
			prefixes = append(prefixes, value)
		}
	}
	return &Redirect{
		maxAppLevel: cfg.MaxAppLevel,
		maxService:  cfg.MaxService,
		exempt:      prefixes,
		telemetry:   telemetry,
	}
}

func (*Redirect) Name() string { return "redirect" }

func (r *Redirect) isExempt(uri string) bool {
	for _, prefix := range r.exempt {
		if strings.HasPrefix(uri, prefix) {
			return true
		}
	}
	return false
}

func (r *Redirect) OnRequest(_ context.Context, call *Call) error {
	if r.isExempt(call.Request.URI) {
		return nil
	}
	call.Request.SetHeader(core.HeaderNoHTTPRedirect, "true")
	return nil
}

func (r *Redirect) OnResponse(ctx context.Context, call *Call, res *core.Response) (*core.Response, error) {
	if r.isExempt(call.Request.URI) {
		return res, nil
	}
	if location := strings.TrimSpace(res.Header(core.HeaderLocation)); location != "" {
		return r.follow(ctx, call, core.RedirectAppLevel, location, nil)
	}
	return res, nil
}

func (r *Redirect) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	httpErr, ok := core.HTTPErrorFrom(err)
	if !ok || r.isExempt(call.Request.URI) {
		return nil, err
	}
	if location := strings.TrimSpace(httpErr.Headers.Get(core.HeaderLocation)); location != "" {
		return r.follow(ctx, call, core.RedirectAppLevel, location, err)
	}
	if code, ok := httpErr.PayloadInt("errorCode"); ok && code == ServiceRedirectErrorCode {
		if location := httpErr.PayloadString("location"); location != "" {
			return r.follow(ctx, call, core.RedirectService, location, err)
		}
	}
	return nil, err
}

func (r *Redirect) follow(ctx context.Context, call *Call, kind core.RedirectKind, location string, cause error) (*core.Response, error) {
	next := call.Request.Clone()
	limit := r.maxAppLevel
	count := 0
	if kind == core.RedirectService {
		next.ServiceRedirectCount++
		limit, count = r.maxService, next.ServiceRedirectCount
	} else {
		next.RedirectCount++
		count = next.RedirectCount
	}
	if count > limit {
		return nil, &core.MaxRedirectsError{Kind: kind, Limit: limit, URL: location, Cause: cause}
	}

	if hostOf(location) != call.Request.Host() {
		next.DeleteHeader(core.HeaderAuthorization)
	}
	next.URI = location
	r.telemetry.Counter(ctx, core.MetricRedirectTotal, 1, map[string]string{"kind": string(kind)})
	r.telemetry.Debug(ctx, "following redirect", map[string]any{
		"kind":        string(kind),
		"from":        call.Request.URI,
		"to":          location,
		"count":       count,
		"tracking_id": call.Request.TrackingID,
	})
	return call.Replay(ctx, next)
}

func hostOf(rawURL string) string {
	return (&core.Request{URI: rawURL}).Host()
}
