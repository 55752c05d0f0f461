package interceptors

import (
	"context"
	"strconv"
	"time"

	"github.com/goliatone/go-collab/core"
)

// Timing stamps request start and end and records latency metrics.
type Timing struct {
	telemetry core.Telemetry
	now       func() time.Time
}

func NewTiming(telemetry core.Telemetry, now func() time.Time) *Timing {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Timing{telemetry: telemetry, now: now}
}

func (*Timing) Name() string { return "timing" }

func (t *Timing) OnRequest(_ context.Context, call *Call) error {
	call.Request.Timings.RequestStart = t.now()
	return nil
}

func (t *Timing) OnResponse(ctx context.Context, call *Call, res *core.Response) (*core.Response, error) {
	t.record(ctx, call.Request, res.StatusCode)
	return res, nil
}

func (t *Timing) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	status := 0
	if httpErr, ok := core.HTTPErrorFrom(err); ok {
		status = httpErr.StatusCode
	}
	t.record(ctx, call.Request, status)
	return nil, err
}

func (t *Timing) record(ctx context.Context, req *core.Request, status int) {
	req.Timings.RequestEnd = t.now()
	tags := map[string]string{
		"method": req.Method,
		"status": statusTag(status),
	}
	if req.Service != "" {
		tags["service"] = req.Service
	}
	t.telemetry.Counter(ctx, core.MetricHTTPRequestsTotal, 1, tags)
	if duration := req.Timings.Duration(); duration > 0 {
		t.telemetry.Histogram(ctx, core.MetricHTTPDuration, float64(duration.Milliseconds()), tags)
	}
}

func statusTag(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
