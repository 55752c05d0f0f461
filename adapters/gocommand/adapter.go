package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

var errNoRegistry = fmt.Errorf("gocommand: registry is not configured")

// ValidateMessageContract checks that msg carries a non empty Type() and
// passes its own Validate() when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	switch {
	case !ok:
		return fmt.Errorf("gocommand: message must implement Type() string")
	case strings.TrimSpace(typed.Type()) == "":
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

// RegistryAdapter owns the go-command registry that collab handlers are
// registered on. Handlers are also subscribed on the global dispatcher so
// Dispatch and Query reach them.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

func (a *RegistryAdapter) RegisterCommand(handler any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(handler)
}

// AddQueueResolver mirrors registered handlers into a go-job command
// registry so they can also run as queued jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if err := a.ready(); err != nil {
		return err
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// Step registers one handler on an adapter.
type Step func(*RegistryAdapter) (commanddispatcher.Subscription, error)

// CommandStep subscribes cmd on the dispatcher and registers it.
func CommandStep[T any](cmd command.Commander[T], runnerOpts ...runner.Option) Step {
	return func(adapter *RegistryAdapter) (commanddispatcher.Subscription, error) {
		if cmd == nil {
			return nil, fmt.Errorf("gocommand: command is required")
		}
		return bind(adapter, cmd, func() commanddispatcher.Subscription {
			return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
		})
	}
}

// QueryStep subscribes qry on the dispatcher and registers it.
func QueryStep[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) Step {
	return func(adapter *RegistryAdapter) (commanddispatcher.Subscription, error) {
		if qry == nil {
			return nil, fmt.Errorf("gocommand: query is required")
		}
		return bind(adapter, qry, func() commanddispatcher.Subscription {
			return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
		})
	}
}

func bind(adapter *RegistryAdapter, handler any, subscribe func() commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := subscribe()
	if err := adapter.registry.RegisterCommand(handler); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Subscriptions collects dispatcher subscriptions so a session can drop
// every handler it registered in one call.
type Subscriptions struct {
	items []commanddispatcher.Subscription
}

func (s *Subscriptions) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Unsubscribe releases subscriptions in reverse registration order.
func (s *Subscriptions) Unsubscribe() {
	if s == nil {
		return
	}
	for idx := len(s.items) - 1; idx >= 0; idx-- {
		s.items[idx].Unsubscribe()
	}
	s.items = nil
}

// Register runs each step against adapter. On failure the subscriptions
// made so far are released.
func Register(adapter *RegistryAdapter, steps ...Step) (*Subscriptions, error) {
	subs := &Subscriptions{}
	for _, step := range steps {
		if step == nil {
			continue
		}
		subscription, err := step(adapter)
		if err != nil {
			subs.Unsubscribe()
			return nil, err
		}
		if subscription != nil {
			subs.items = append(subs.items, subscription)
		}
	}
	return subs, nil
}
