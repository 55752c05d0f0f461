package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-collab/core"
)

// ConnectOptions configures Connect. Zero durations fall back to defaults.
type ConnectOptions struct {
	Addr           string
	Username       string
	Password       string
	DB             int
	PoolSize       int
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	MaxWait        time.Duration
	PingTimeout    time.Duration
}

func (o ConnectOptions) withDefaults() ConnectOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 2 * time.Second
	}
	return o
}

// Connect dials redis and pings it with capped exponential backoff until
// ConnectTimeout runs out.
func Connect(ctx context.Context, opts ConnectOptions, telemetry core.Telemetry) (*redis.Client, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, core.NewBadInputError("redisstore: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := pingWithRetry(ctx, client, opts, telemetry); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func pingWithRetry(ctx context.Context, client *redis.Client, opts ConnectOptions, telemetry core.Telemetry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	wait := opts.RetryInterval
	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()
		if err == nil {
			telemetry.Info(ctx, "connected to redis", map[string]any{
				"addr":     opts.Addr,
				"attempts": attempt,
			})
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			telemetry.Error(ctx, "redis unavailable", map[string]any{
				"addr":     opts.Addr,
				"attempts": attempt,
				"error":    err.Error(),
			})
			return fmt.Errorf("redisstore: redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			telemetry.Warn(ctx, "redis connection failed, retrying", map[string]any{
				"addr":          opts.Addr,
				"attempt":       attempt,
				"next_retry_in": wait.String(),
			})
			wait = nextBackoff(wait, opts.MaxWait)
		}
	}
}

func nextBackoff(current time.Duration, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}
