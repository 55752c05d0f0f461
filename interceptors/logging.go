package interceptors

import (
	"context"

	"github.com/goliatone/go-collab/core"
)

// Logging writes structured request and response logs when enabled.
type Logging struct {
	telemetry core.Telemetry
	enabled   bool
}

func NewLogging(telemetry core.Telemetry, enabled bool) *Logging {
	return &Logging{telemetry: telemetry, enabled: enabled}
}

func (*Logging) Name() string { return "logging" }

func (l *Logging) OnRequest(ctx context.Context, call *Call) error {
	if !l.enabled {
		return nil
	}
	l.telemetry.Debug(ctx, "http request", requestFields(call.Request))
	return nil
}

func (l *Logging) OnResponse(ctx context.Context, call *Call, res *core.Response) (*core.Response, error) {
	if l.enabled {
		fields := requestFields(call.Request)
		fields["status"] = res.StatusCode
		fields["duration_ms"] = call.Request.Timings.Duration().Milliseconds()
		l.telemetry.Info(ctx, "http response", fields)
	}
	return res, nil
}

func (l *Logging) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	if l.enabled {
		fields := requestFields(call.Request)
		fields["error"] = err.Error()
		if httpErr, ok := core.HTTPErrorFrom(err); ok {
			fields["status"] = httpErr.StatusCode
		}
		l.telemetry.Warn(ctx, "http request failed", fields)
	}
	return nil, err
}

func requestFields(req *core.Request) map[string]any {
	fields := map[string]any{
		"method":      req.Method,
		"uri":         req.URI,
		"tracking_id": req.TrackingID,
	}
	if req.Service != "" {
		fields["service"] = req.Service
	}
	if req.ReplayCount > 0 {
		fields["replay"] = req.ReplayCount
	}
	if redirects := req.RedirectCount + req.ServiceRedirectCount; redirects > 0 {
		fields["redirects"] = redirects
	}
	return fields
}
