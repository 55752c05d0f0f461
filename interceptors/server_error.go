package interceptors

import (
	"context"
	"net/http"

	"github.com/goliatone/go-collab/core"
)

// ServerError marks the failing host in the catalog when a high
// availability service answers 5xx. The error always propagates; the next
// request resolves to the failover host.
type ServerError struct {
	cfg       core.Config
	catalog   ServiceCatalog
	telemetry core.Telemetry
}

func NewServerError(cfg core.Config, catalog ServiceCatalog, telemetry core.Telemetry) *ServerError {
	return &ServerError{cfg: cfg, catalog: catalog, telemetry: telemetry}
}

func (*ServerError) Name() string { return "server_error" }

func (s *ServerError) OnResponseError(ctx context.Context, call *Call, err error) (*core.Response, error) {
	httpErr, ok := core.HTTPErrorFrom(err)
	if !ok || httpErr.StatusCode < http.StatusInternalServerError || httpErr.StatusCode > 599 {
		return nil, err
	}
	req := call.Request
	req.ServerErrorCount++
	service := serviceName(s.catalog, req)
	if !s.cfg.IsHAService(service) {
		return nil, err
	}
	next, marked := s.catalog.MarkFailedURL(req.URI)
	s.telemetry.Counter(ctx, core.MetricServerErrorTotal, 1, map[string]string{
		"service": service,
		"status":  itoa(httpErr.StatusCode),
	})
	s.telemetry.Warn(ctx, "server error marked host failed", map[string]any{
		"service":     service,
		"uri":         req.URI,
		"next":        next,
		"marked":      marked,
		"tracking_id": req.TrackingID,
	})
	return nil, err
}
