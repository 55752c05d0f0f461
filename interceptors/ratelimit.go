package interceptors

import (
	"context"

	"github.com/goliatone/go-collab/core"
	"github.com/goliatone/go-collab/ratelimit"
)

// RateLimit rejects requests to a service inside a throttle window opened
// by an earlier 429.
type RateLimit struct {
	limiter   *ratelimit.Limiter
	catalog   ServiceCatalog
	telemetry core.Telemetry
}

func NewRateLimit(limiter *ratelimit.Limiter, catalog ServiceCatalog, telemetry core.Telemetry) *RateLimit {
	return &RateLimit{limiter: limiter, catalog: catalog, telemetry: telemetry}
}

func (*RateLimit) Name() string { return "rate_limit" }

func (r *RateLimit) key(req *core.Request) ratelimit.Key {
	return ratelimit.Key{Service: serviceName(r.catalog, req)}
}

func (r *RateLimit) OnRequest(ctx context.Context, call *Call) error {
	key := r.key(call.Request)
	if err := r.limiter.BeforeCall(ctx, key); err != nil {
		r.telemetry.Counter(ctx, core.MetricRateLimitedTotal, 1, map[string]string{"service": key.Service})
		return err
	}
	return nil
}

func (r *RateLimit) OnResponse(ctx context.Context, call *Call, res *core.Response) (*core.Response, error) {
	r.observe(ctx, call.Request, ratelimit.ResponseMeta{StatusCode: res.StatusCode, Headers: res.Headers})
	return res, nil
}

func (r *RateLimit) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	if httpErr, ok := core.HTTPErrorFrom(err); ok {
		r.observe(ctx, call.Request, ratelimit.ResponseMeta{StatusCode: httpErr.StatusCode, Headers: httpErr.Headers})
	}
	return nil, err
}

func (r *RateLimit) observe(ctx context.Context, req *core.Request, meta ratelimit.ResponseMeta) {
	if err := r.limiter.AfterCall(ctx, r.key(req), meta); err != nil {
		r.telemetry.Warn(ctx, "rate limit state update failed", map[string]any{"error": err.Error()})
	}
}
