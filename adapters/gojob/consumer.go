package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-job/queue/worker"

	"github.com/goliatone/go-collab/core"
)

// Handler executes one job message.
type Handler func(ctx context.Context, msg *core.JobExecutionMessage) error

type ConsumerOption func(*Consumer)

func WithHook(hook worker.Hook) ConsumerOption {
	return func(c *Consumer) {
		if hook != nil {
			c.hook = hook
		}
	}
}

func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *Consumer) {
		if now != nil {
			c.now = now
		}
	}
}

// Consumer pulls deliveries from a core.JobDequeuer and routes them by job
// id. Handler failures are nacked with the number of consecutive failures
// seen for the message; unknown job ids are nacked as well so another
// consumer may pick them up.
type Consumer struct {
	dequeuer core.JobDequeuer
	hook     worker.Hook
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
	failures map[string]int
}

// attemptNacker is implemented by deliveries whose nack depends on how
// often the message already failed. final reports that the message will
// not be redelivered.
type attemptNacker interface {
	NackAttempt(ctx context.Context, reason string, attempt int) (final bool, err error)
}

func attemptKey(msg *core.JobExecutionMessage) string {
	if msg.IdempotencyKey != "" {
		return msg.JobID + "|" + msg.IdempotencyKey
	}
	return msg.JobID
}

func NewConsumer(dequeuer core.JobDequeuer, telemetry core.Telemetry, opts ...ConsumerOption) *Consumer {
	consumer := &Consumer{
		dequeuer: dequeuer,
		hook:     NewTelemetryHook(telemetry),
		now:      time.Now,
		handlers: map[string]Handler{},
		failures: map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(consumer)
		}
	}
	return consumer
}

func (c *Consumer) Handle(jobID string, handler Handler) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return core.NewBadInputError("gojob: job id is required")
	}
	if handler == nil {
		return core.NewBadInputError("gojob: handler is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[jobID] = handler
	return nil
}

// HandlerError wraps a failed handler run. The delivery has already been
// nacked when it is returned.
type HandlerError struct {
	JobID string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("gojob: job %s failed: %v", e.JobID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// ProcessOne dequeues and settles a single delivery.
func (c *Consumer) ProcessOne(ctx context.Context) error {
	if c == nil || c.dequeuer == nil {
		return fmt.Errorf("gojob: consumer dequeuer is not configured")
	}
	delivery, err := c.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	if delivery == nil {
		return nil
	}
	msg := delivery.Message()
	if msg == nil {
		return delivery.Nack(ctx, "empty message")
	}

	c.mu.RLock()
	handler, ok := c.handlers[msg.JobID]
	c.mu.RUnlock()
	if !ok {
		return delivery.Nack(ctx, "no handler for "+msg.JobID)
	}

	key := attemptKey(msg)
	c.mu.RLock()
	attempt := c.failures[key] + 1
	c.mu.RUnlock()

	started := c.now()
	event := worker.Event{Message: ToExecutionMessage(msg), Attempt: attempt, StartedAt: started}
	c.hook.OnStart(ctx, event)

	runErr := handler(ctx, msg)
	event.Duration = c.now().Sub(started)
	if runErr != nil {
		event.Err = runErr
		c.hook.OnFailure(ctx, event)
		var (
			final   bool
			nackErr error
		)
		if nacker, ok := delivery.(attemptNacker); ok {
			final, nackErr = nacker.NackAttempt(ctx, runErr.Error(), attempt)
		} else {
			nackErr = delivery.Nack(ctx, runErr.Error())
		}
		c.mu.Lock()
		if final {
			delete(c.failures, key)
		} else {
			c.failures[key] = attempt
		}
		c.mu.Unlock()
		if nackErr != nil {
			return errors.Join(&HandlerError{JobID: msg.JobID, Err: runErr}, nackErr)
		}
		return &HandlerError{JobID: msg.JobID, Err: runErr}
	}
	c.mu.Lock()
	delete(c.failures, key)
	c.mu.Unlock()
	c.hook.OnSuccess(ctx, event)
	return delivery.Ack(ctx)
}

// Run processes deliveries until ctx is done. Handler errors do not stop
// the loop; dequeue errors do.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := c.ProcessOne(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		var handlerErr *HandlerError
		if errors.As(err, &handlerErr) {
			continue
		}
		return err
	}
}
