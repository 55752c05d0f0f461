package core

import (
	"context"
	"testing"
)

func TestTelemetry_LogsAndCounts(t *testing.T) {
	logger := &recordingLogger{}
	metrics := &recordingMetrics{}
	telemetry := NewTelemetry(logger, metrics)

	telemetry.Info(context.Background(), "catalog ready", map[string]any{"tier": "postauth"})
	telemetry.Warn(context.Background(), "host failed", nil)
	telemetry.Counter(context.Background(), MetricHostFailedTotal, 1, map[string]string{"service": "locus"})

	entries := logger.Entries()
	if len(entries) != 2 || entries[0] != "info:catalog ready" || entries[1] != "warn:host failed" {
		t.Fatalf("unexpected log entries %#v", entries)
	}
	if metrics.counters[MetricHostFailedTotal] != 1 {
		t.Fatalf("expected host failed counter")
	}
}

func TestTelemetry_ZeroValueIsUsable(t *testing.T) {
	var telemetry Telemetry
	telemetry.Error(context.Background(), "ignored", map[string]any{"a": 1})
	telemetry.Counter(context.Background(), "ignored", 1, nil)
	if telemetry.Logger() == nil {
		t.Fatalf("expected nop logger from zero value")
	}
}
