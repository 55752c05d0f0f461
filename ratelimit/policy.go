package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-collab/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// Key identifies a throttle bucket. Bucket is optional and narrows the
// window to part of a service.
type Key struct {
	Service string `json:"service"`
	Bucket  string `json:"bucket,omitempty"`
}

// ResponseMeta is the part of a response the policy inspects.
type ResponseMeta struct {
	StatusCode int
	Headers    http.Header
	RetryAfter *time.Duration
}

type State struct {
	Key            Key            `json:"key"`
	Limit          int            `json:"limit,omitempty"`
	Remaining      int            `json:"remaining"`
	ResetAt        *time.Time     `json:"reset_at,omitempty"`
	RetryAfter     *time.Duration `json:"retry_after,omitempty"`
	ThrottledUntil *time.Time     `json:"throttled_until,omitempty"`
	LastStatus     int            `json:"last_status,omitempty"`
	Attempts       int            `json:"attempts,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

// Limiter tracks server advertised throttle windows per service and rejects
// calls made inside an active window.
type Limiter struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewLimiter(store StateStore) *Limiter {
	return &Limiter{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

// BeforeCall returns a *core.RateLimitedError while key is throttled.
func (l *Limiter) BeforeCall(ctx context.Context, key Key) error {
	if l == nil || l.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	if key.Service == "" {
		return nil
	}
	state, err := l.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := l.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return &core.RateLimitedError{Service: key.Service, RetryAfter: until.Sub(now)}
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return &core.RateLimitedError{Service: key.Service, RetryAfter: state.ResetAt.Sub(now)}
	}
	return nil
}

// AfterCall records the throttle headers of res. A 429 opens a window of
// retry-after, or an exponential backoff when the header is missing.
func (l *Limiter) AfterCall(ctx context.Context, key Key, res ResponseMeta) error {
	if l == nil || l.Store == nil {
		return nil
	}
	key = normalizeKey(key)
	if key.Service == "" {
		return nil
	}
	now := l.now()
	state, err := l.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Key: key}
	}

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(res.Headers, "x-ratelimit-limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(res.Headers, "x-ratelimit-remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(res.Headers)
	if hasResetAt {
		state.ResetAt = &resetAt
	}

	retryAfter, hasRetryAfter := parseRetryAfter(res, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	if isThrottledResponse(res.StatusCode, state.Remaining, hasRemaining || hasResetAt || hasLimit || hasRetryAfter) {
		state.Attempts++
		delay := retryAfter
		if !hasRetryAfter {
			delay = l.nextBackoff(state.Attempts)
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return l.Store.Upsert(ctx, state)
	}

	state.Attempts = 0
	state.ThrottledUntil = nil
	return l.Store.Upsert(ctx, state)
}

func (l *Limiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Limiter) nextBackoff(attempt int) time.Duration {
	initial := l.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := l.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return l.defaultRetryHint()
	}
	return delay
}

func (l *Limiter) defaultRetryHint() time.Duration {
	if l != nil && l.DefaultRetryHint > 0 {
		return l.DefaultRetryHint
	}
	return 5 * time.Second
}

func isThrottledResponse(statusCode int, remaining int, advertised bool) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	return remaining == 0 && advertised
}

func parseRetryAfter(res ResponseMeta, now time.Time) (time.Duration, bool) {
	if res.RetryAfter != nil && *res.RetryAfter > 0 {
		return *res.RetryAfter, true
	}
	raw := strings.TrimSpace(res.Headers.Get(core.HeaderRetryAfter))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(headers http.Header, key string) (int, bool) {
	value := strings.TrimSpace(headers.Get(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(headers http.Header) (time.Time, bool) {
	value := strings.TrimSpace(headers.Get("x-ratelimit-reset"))
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

func normalizeKey(key Key) Key {
	return Key{
		Service: strings.TrimSpace(strings.ToLower(key.Service)),
		Bucket:  strings.TrimSpace(strings.ToLower(key.Bucket)),
	}
}

func stateKey(key Key) string {
	if key.Bucket == "" {
		return key.Service
	}
	return key.Service + "|" + key.Bucket
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalizeKey(key))]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

// StoreNamespace groups throttle state in a shared core.KeyValueStore.
const StoreNamespace = "collab.ratelimit"

// KeyValueStateStore keeps throttle state as JSON in a core.KeyValueStore so
// several sessions can share windows through a SQL or Redis backend.
type KeyValueStateStore struct {
	Store core.KeyValueStore
}

func NewKeyValueStateStore(store core.KeyValueStore) *KeyValueStateStore {
	return &KeyValueStateStore{Store: store}
}

func (s *KeyValueStateStore) Get(ctx context.Context, key Key) (State, error) {
	if s == nil || s.Store == nil {
		return State{}, fmt.Errorf("ratelimit: key value store is nil")
	}
	payload, err := s.Store.Get(ctx, StoreNamespace, stateKey(normalizeKey(key)))
	if err != nil {
		if core.IsNotFound(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("ratelimit: decode state: %w", err)
	}
	return state, nil
}

func (s *KeyValueStateStore) Upsert(ctx context.Context, state State) error {
	if s == nil || s.Store == nil {
		return fmt.Errorf("ratelimit: key value store is nil")
	}
	state.Key = normalizeKey(state.Key)
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("ratelimit: encode state: %w", err)
	}
	return s.Store.Put(ctx, StoreNamespace, stateKey(state.Key), payload)
}

var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*KeyValueStateStore)(nil)
)
