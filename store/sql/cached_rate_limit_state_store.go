package sqlstore

import (
	"context"
	"fmt"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-collab/ratelimit"
)

const rateLimitStateCacheKeyPrefix = "go-collab::ratelimit_state::v1"

// CachedRateLimitStateStore keeps throttle windows in a go-repository-cache
// service so the limiter's per-request check skips the database. Writes go
// to the base store first and then evict.
type CachedRateLimitStateStore struct {
	base  ratelimit.StateStore
	cache repositorycache.CacheService
}

func NewCachedRateLimitStateStore(base ratelimit.StateStore, cacheService repositorycache.CacheService) (*CachedRateLimitStateStore, error) {
	switch {
	case base == nil:
		return nil, fmt.Errorf("sqlstore: base rate-limit state store is required")
	case cacheService == nil:
		return nil, fmt.Errorf("sqlstore: rate-limit cache service is required")
	}
	return &CachedRateLimitStateStore{base: base, cache: cacheService}, nil
}

// RateLimitStateCacheKey is go-collab::ratelimit_state::v1::<service>::<bucket>.
func RateLimitStateCacheKey(key ratelimit.Key) (string, error) {
	key = normalizeRateLimitKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return "", err
	}
	return cacheKey(rateLimitStateCacheKeyPrefix, key.Service, key.Bucket), nil
}

func (s *CachedRateLimitStateStore) Get(ctx context.Context, key ratelimit.Key) (ratelimit.State, error) {
	key = normalizeRateLimitKey(key)
	k, err := RateLimitStateCacheKey(key)
	if err != nil {
		return ratelimit.State{}, err
	}
	state, err := repositorycache.GetOrFetch(ctx, s.cache, k, func(ctx context.Context) (ratelimit.State, error) {
		return s.base.Get(ctx, key)
	})
	if err != nil {
		return ratelimit.State{}, err
	}
	return detachState(state), nil
}

func (s *CachedRateLimitStateStore) Upsert(ctx context.Context, state ratelimit.State) error {
	state.Key = normalizeRateLimitKey(state.Key)
	k, err := RateLimitStateCacheKey(state.Key)
	if err != nil {
		return err
	}
	if err := s.base.Upsert(ctx, state); err != nil {
		return err
	}
	return s.cache.Delete(ctx, k)
}

// detachState copies the pointer fields so callers cannot mutate the value
// held by the cache.
func detachState(state ratelimit.State) ratelimit.State {
	state.ResetAt = copyTimePointer(state.ResetAt)
	state.ThrottledUntil = copyTimePointer(state.ThrottledUntil)
	if state.RetryAfter != nil {
		retryAfter := *state.RetryAfter
		state.RetryAfter = &retryAfter
	}
	return state
}

var _ ratelimit.StateStore = (*CachedRateLimitStateStore)(nil)
