package core

import "context"

const (
	MetricHTTPRequestsTotal     = "collab.http.requests.total"
	MetricHTTPDuration          = "collab.http.duration_ms"
	MetricHostFailedTotal       = "collab.catalog.host_failed.total"
	MetricRefreshTotal          = "collab.credentials.refresh.total"
	MetricDownscopeTotal        = "collab.credentials.downscope.total"
	MetricRateLimitedTotal      = "collab.http.rate_limited.total"
	MetricServerErrorTotal      = "collab.http.server_error.total"
	MetricRedirectTotal         = "collab.http.redirect.total"
	MetricAuthReplayTotal       = "collab.http.auth_replay.total"
	MetricCatalogWaitTimeoutTot = "collab.catalog.wait_timeout.total"
	MetricJobEventsTotal        = "collab.jobs.events.total"
	MetricJobDuration           = "collab.jobs.duration_ms"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
