package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-collab/core"
)

// RetryPolicy decides how a failed delivery goes back to the queue. The
// delay doubles per attempt from RetryDelay up to MaxDelay. Once
// MaxAttempts is reached the delivery is dead lettered when DeadLetterOnMax
// is set and dropped otherwise.
type RetryPolicy struct {
	MaxAttempts     int
	RetryDelay      time.Duration
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NackOptions returns the go-job nack for the attempt-th failure, counting
// from 1.
func (p RetryPolicy) NackOptions(reason string, attempt int) queue.NackOptions {
	if attempt < 1 {
		attempt = 1
	}
	opts := queue.NackOptions{Reason: strings.TrimSpace(reason)}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		opts.DeadLetter = p.DeadLetterOnMax
		return opts
	}
	opts.Requeue = true
	delay := p.RetryDelay
	for i := 1; i < attempt && delay > 0; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if delay > 0 {
		opts.Delay = delay
	}
	return opts
}

// ToExecutionMessage maps a collab job message to go-job. The job id doubles
// as the script path so go-job registries can resolve it.
func ToExecutionMessage(msg *core.JobExecutionMessage) *job.ExecutionMessage {
	if msg == nil {
		return nil
	}
	jobID := strings.TrimSpace(msg.JobID)
	return &job.ExecutionMessage{
		JobID:          jobID,
		ScriptPath:     jobID,
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

func FromExecutionMessage(msg *job.ExecutionMessage) *core.JobExecutionMessage {
	if msg == nil {
		return nil
	}
	return &core.JobExecutionMessage{
		JobID:          strings.TrimSpace(msg.JobID),
		Parameters:     copyAnyMap(msg.Parameters),
		IdempotencyKey: strings.TrimSpace(msg.IdempotencyKey),
	}
}

// EnqueuerAdapter lets credentials.Manager queue revocations on a go-job
// queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Enqueue(ctx context.Context, msg *core.JobExecutionMessage) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(msg))
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, policy: policy}
}

func (d *DeliveryAdapter) Message() *core.JobExecutionMessage {
	if d == nil || d.delivery == nil {
		return nil
	}
	return FromExecutionMessage(d.delivery.Message())
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

// Nack settles a first failure.
func (d *DeliveryAdapter) Nack(ctx context.Context, reason string) error {
	_, err := d.NackAttempt(ctx, reason, 1)
	return err
}

// NackAttempt settles the attempt-th consecutive failure of the message and
// reports whether the queue gives up on it.
func (d *DeliveryAdapter) NackAttempt(ctx context.Context, reason string, attempt int) (bool, error) {
	if d == nil || d.delivery == nil {
		return false, fmt.Errorf("gojob: delivery is not configured")
	}
	opts := d.policy.NackOptions(reason, attempt)
	return !opts.Requeue, d.delivery.Nack(ctx, opts)
}

type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy}
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return nil, err
	}
	return NewDeliveryAdapter(delivery, a.policy), nil
}

// TelemetryHook reports go-job worker events as collab logs and metrics.
type TelemetryHook struct {
	telemetry core.Telemetry
}

func NewTelemetryHook(telemetry core.Telemetry) *TelemetryHook {
	return &TelemetryHook{telemetry: telemetry}
}

func (h *TelemetryHook) OnStart(ctx context.Context, event worker.Event) {
	h.record(ctx, "start", event)
}

func (h *TelemetryHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.record(ctx, "success", event)
	if event.Duration > 0 {
		h.telemetry.Histogram(ctx, core.MetricJobDuration, float64(event.Duration.Milliseconds()), map[string]string{
			"job_id": eventJobID(event),
		})
	}
}

func (h *TelemetryHook) OnFailure(ctx context.Context, event worker.Event) {
	h.record(ctx, "failure", event)
}

func (h *TelemetryHook) OnRetry(ctx context.Context, event worker.Event) {
	h.record(ctx, "retry", event)
}

func (h *TelemetryHook) record(ctx context.Context, name string, event worker.Event) {
	if h == nil {
		return
	}
	jobID := eventJobID(event)
	fields := map[string]any{
		"job_id":  jobID,
		"attempt": event.Attempt,
		"event":   name,
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
		h.telemetry.Warn(ctx, "job event", fields)
	} else {
		h.telemetry.Debug(ctx, "job event", fields)
	}
	h.telemetry.Counter(ctx, core.MetricJobEventsTotal, 1, map[string]string{
		"job_id": jobID,
		"event":  name,
	})
}

func eventJobID(event worker.Event) string {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message == nil {
		return ""
	}
	return strings.TrimSpace(message.JobID)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.JobEnqueuer = (*EnqueuerAdapter)(nil)
	_ core.JobDelivery = (*DeliveryAdapter)(nil)
	_ core.JobDequeuer = (*DequeuerAdapter)(nil)
	_ worker.Hook      = (*TelemetryHook)(nil)
)
