package credentials

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-collab/core"
)

const (
	StoreNamespace = "collab.credentials"
	stateKey       = "state"

	// RevokeJobID names the background job revoking a superseded token.
	RevokeJobID = "collab.credentials.revoke"

	refreshFlightKey = "refresh"
)

var (
	ErrNoSupertoken   = errors.New("credentials: no supertoken available")
	ErrNotRefreshable = errors.New("credentials: supertoken cannot be refreshed")
	// ErrSuperseded is returned when an invalidation raced a refresh.
	ErrSuperseded = errors.New("credentials: credentials changed during refresh")
)

type Option func(*Manager)

func WithStore(store core.KeyValueStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

func WithSecretProvider(provider core.SecretProvider) Option {
	return func(m *Manager) {
		m.codec.Secrets = provider
	}
}

func WithTelemetry(telemetry core.Telemetry) Option {
	return func(m *Manager) {
		m.telemetry = telemetry
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRandom replaces the refresh window source; it must return [0, 1).
func WithRandom(random func() float64) Option {
	return func(m *Manager) {
		if random != nil {
			m.random = random
		}
	}
}

func WithAfterFunc(afterFunc AfterFunc) Option {
	return func(m *Manager) {
		if afterFunc != nil {
			m.afterFunc = afterFunc
		}
	}
}

// WithJobEnqueuer routes revocations of superseded tokens to a queue.
func WithJobEnqueuer(enqueuer core.JobEnqueuer) Option {
	return func(m *Manager) {
		m.enqueuer = enqueuer
	}
}

func OnReauthRequired(callback func(error)) Option {
	return func(m *Manager) {
		m.onReauth = callback
	}
}

// Manager owns the supertoken and the downscoped child tokens keyed by
// normalized scope. At most one refresh and one downscope per scope key are
// in flight at any time.
type Manager struct {
	cfg       core.CredentialsConfig
	client    GrantClient
	store     core.KeyValueStore
	codec     TokenCodec
	telemetry core.Telemetry
	now       func() time.Time
	random    func() float64
	afterFunc AfterFunc
	enqueuer  core.JobEnqueuer
	onReauth  func(error)

	flights    singleflight.Group
	background sync.WaitGroup

	mu          sync.Mutex
	supertoken  *Token
	children    map[string]*Token
	timer       Stopper
	refreshing  bool
	refreshDone chan struct{}
	generation  uint64
	reauth      chan struct{}
}

func NewManager(cfg core.CredentialsConfig, client GrantClient, options ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		client:    client,
		now:       defaultNow,
		random:    rand.Float64,
		afterFunc: timeAfterFunc,
		children:  map[string]*Token{},
		reauth:    make(chan struct{}, 1),
	}
	for _, opt := range options {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// ReauthRequired delivers a signal each time stored credentials were wiped
// and the user must authenticate again. Signals coalesce while unread.
func (m *Manager) ReauthRequired() <-chan struct{} {
	return m.reauth
}

func (m *Manager) Supertoken() *Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supertoken
}

// SetSupertoken installs token as the root credential, drops cached children,
// persists the state and schedules the next refresh.
func (m *Manager) SetSupertoken(ctx context.Context, token *Token) error {
	if token == nil || strings.TrimSpace(token.AccessToken) == "" {
		return core.NewBadInputError("credentials: supertoken requires an access token")
	}
	token.bind(m.client, m.now)

	m.mu.Lock()
	m.stopTimerLocked()
	m.supertoken = token
	m.children = map[string]*Token{}
	m.generation++
	m.mu.Unlock()

	if err := m.persist(ctx); err != nil {
		return err
	}
	if !token.Expires.IsZero() && token.CanRefresh() {
		m.ScheduleRefresh(token.Expires)
	}
	return nil
}

func (m *Manager) RequestAuthorizationCodeGrant(ctx context.Context, code string) (*Token, error) {
	if m.client == nil {
		return nil, fmt.Errorf("credentials: grant client is not configured")
	}
	token, err := m.client.AuthorizationCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := m.SetSupertoken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

func (m *Manager) RequestClientCredentialsGrant(ctx context.Context) (*Token, error) {
	if m.client == nil {
		return nil, fmt.Errorf("credentials: grant client is not configured")
	}
	token, err := m.client.ClientCredentials(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.SetSupertoken(ctx, token); err != nil {
		return nil, err
	}
	return token, nil
}

// GetUserToken returns a token for scope. It waits for an in-flight refresh
// first. The configured full scope, or an empty scope, yields the supertoken;
// any other scope yields a cached or freshly downscoped child.
func (m *Manager) GetUserToken(ctx context.Context, scope string) (*Token, error) {
	if err := m.waitForRefresh(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	supertoken := m.supertoken
	generation := m.generation
	m.mu.Unlock()
	if supertoken == nil {
		return nil, &core.ReauthRequiredError{Cause: ErrNoSupertoken}
	}

	key := NormalizeScope(scope)
	if key == "" || key == NormalizeScope(m.cfg.Scope) {
		return supertoken, nil
	}

	m.mu.Lock()
	child := m.children[key]
	m.mu.Unlock()
	if child != nil && !child.IsExpired() {
		return child, nil
	}

	result := m.flights.DoChan("downscope:"+key, func() (any, error) {
		return m.downscope(context.WithoutCancel(ctx), supertoken, generation, key)
	})
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) downscope(ctx context.Context, supertoken *Token, generation uint64, key string) (*Token, error) {
	child, err := supertoken.Downscope(ctx, key)
	if err != nil {
		m.telemetry.Counter(ctx, core.MetricDownscopeTotal, 1, map[string]string{"status": "failure"})
		return nil, err
	}
	child.bind(m.client, m.now)
	m.telemetry.Counter(ctx, core.MetricDownscopeTotal, 1, map[string]string{"status": "success"})

	m.mu.Lock()
	current := m.generation == generation
	if current {
		m.children[key] = child
	}
	m.mu.Unlock()
	if current {
		if err := m.persist(ctx); err != nil {
			m.telemetry.Warn(ctx, "credentials persist failed", map[string]any{"error": err.Error()})
		}
	}
	return child, nil
}

func (m *Manager) waitForRefresh(ctx context.Context) error {
	m.mu.Lock()
	refreshing, done := m.refreshing, m.refreshDone
	m.mu.Unlock()
	if !refreshing {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScheduleRefresh arms the refresh timer for a token expiring at expiresAt
// and returns the chosen delay. Any pending timer is replaced.
func (m *Manager) ScheduleRefresh(expiresAt time.Time) time.Duration {
	remaining := expiresAt.Sub(m.now())
	delay := RefreshDelay(remaining, m.cfg.RefreshWindowMin, m.cfg.RefreshWindowMax, m.random)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimerLocked()
	m.timer = m.afterFunc(delay, m.refreshFromTimer)
	m.telemetry.Debug(context.Background(), "credentials refresh scheduled", map[string]any{
		"delay_ms": delay.Milliseconds(),
	})
	return delay
}

func (m *Manager) refreshFromTimer() {
	if _, err := m.Refresh(context.Background()); err != nil {
		m.telemetry.Warn(context.Background(), "credentials scheduled refresh failed", map[string]any{
			"error": err.Error(),
		})
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Refresh exchanges the supertoken refresh token. Concurrent callers share
// one network exchange.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	result := m.flights.DoChan(refreshFlightKey, func() (any, error) {
		return m.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) refresh(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	m.stopTimerLocked()
	current := m.supertoken
	if current == nil {
		m.mu.Unlock()
		return nil, &core.ReauthRequiredError{Cause: ErrNoSupertoken}
	}
	if !current.CanRefresh() {
		m.mu.Unlock()
		return nil, ErrNotRefreshable
	}
	done := make(chan struct{})
	m.refreshing = true
	m.refreshDone = done
	generation := m.generation
	m.mu.Unlock()

	next, err := current.Refresh(ctx)
	if err != nil {
		m.telemetry.Counter(ctx, core.MetricRefreshTotal, 1, map[string]string{"status": "failure"})
		if kind, ok := core.GrantErrorKindOf(err); ok && kind == core.GrantInvalidRequest {
			reauthErr := &core.ReauthRequiredError{Cause: err}
			// Waiters must not wake before the supertoken is gone.
			if invalidateErr := m.Invalidate(ctx); invalidateErr != nil {
				m.telemetry.Warn(ctx, "credentials invalidate failed", map[string]any{"error": invalidateErr.Error()})
			}
			m.finishRefresh(done)
			m.signalReauth(reauthErr)
			return nil, reauthErr
		}
		m.finishRefresh(done)
		m.telemetry.Error(ctx, "credentials refresh failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	next.bind(m.client, m.now)

	m.mu.Lock()
	if m.generation != generation {
		m.mu.Unlock()
		m.finishRefresh(done)
		return nil, ErrSuperseded
	}
	previous := m.children
	m.supertoken = next
	m.children = map[string]*Token{}
	m.generation++
	generation = m.generation
	m.mu.Unlock()
	m.finishRefresh(done)

	m.telemetry.Counter(ctx, core.MetricRefreshTotal, 1, map[string]string{"status": "success"})
	if err := m.persist(ctx); err != nil {
		m.telemetry.Warn(ctx, "credentials persist failed", map[string]any{"error": err.Error()})
	}
	if len(previous) > 0 {
		m.background.Add(1)
		go func() {
			defer m.background.Done()
			m.rotateChildren(ctx, next, generation, previous)
		}()
	}
	if !next.Expires.IsZero() {
		m.ScheduleRefresh(next.Expires)
	}
	return next, nil
}

func (m *Manager) finishRefresh(done chan struct{}) {
	m.mu.Lock()
	if m.refreshDone == done {
		m.refreshing = false
	}
	m.mu.Unlock()
	close(done)
}

// rotateChildren downscopes every previously cached scope from the new
// supertoken and revokes the superseded children.
func (m *Manager) rotateChildren(ctx context.Context, supertoken *Token, generation uint64, previous map[string]*Token) {
	for key, old := range previous {
		result := m.flights.DoChan("downscope:"+key, func() (any, error) {
			return m.downscope(ctx, supertoken, generation, key)
		})
		if res := <-result; res.Err != nil {
			m.telemetry.Warn(ctx, "credentials re-downscope failed", map[string]any{
				"scope": key,
				"error": res.Err.Error(),
			})
		}
		if err := m.revoke(ctx, old); err != nil {
			m.telemetry.Warn(ctx, "credentials revoke failed", map[string]any{
				"scope": key,
				"error": err.Error(),
			})
		}
	}
}

func (m *Manager) revoke(ctx context.Context, token *Token) error {
	if token == nil {
		return nil
	}
	if m.enqueuer != nil {
		return m.enqueuer.Enqueue(ctx, &core.JobExecutionMessage{
			JobID:          RevokeJobID,
			IdempotencyKey: RevokeJobID + ":" + token.AccessToken,
			Parameters: map[string]any{
				"access_token": token.AccessToken,
				"token_type":   token.TokenType,
			},
		})
	}
	return token.Revoke(ctx)
}

// HandleRevokeJob executes a queued revocation.
func (m *Manager) HandleRevokeJob(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil || msg.JobID != RevokeJobID {
		return core.NewBadInputError("credentials: unexpected job message")
	}
	accessToken, _ := msg.Parameters["access_token"].(string)
	if strings.TrimSpace(accessToken) == "" {
		return core.NewBadInputError("credentials: revoke job requires an access token")
	}
	tokenType, _ := msg.Parameters["token_type"].(string)
	token := &Token{AccessToken: accessToken, TokenType: tokenType}
	return token.bind(m.client, m.now).Revoke(ctx)
}

// Invalidate synchronously clears the timer, the supertoken, every child and
// the persisted state. It is idempotent.
func (m *Manager) Invalidate(ctx context.Context) error {
	m.mu.Lock()
	m.stopTimerLocked()
	m.supertoken = nil
	m.children = map[string]*Token{}
	m.generation++
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx, StoreNamespace); err != nil && !core.IsNotFound(err) {
		return err
	}
	return nil
}

func (m *Manager) signalReauth(err error) {
	select {
	case m.reauth <- struct{}{}:
	default:
	}
	m.telemetry.Warn(context.Background(), "credentials require re-authentication", map[string]any{
		"error": err.Error(),
	})
	if m.onReauth != nil {
		m.onReauth(err)
	}
}

func (m *Manager) IsRefreshable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supertoken != nil && m.supertoken.CanRefresh()
}

// CanAuthorize reports whether a usable supertoken exists or can be obtained
// by refreshing.
func (m *Manager) CanAuthorize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.supertoken == nil {
		return false
	}
	return !m.supertoken.IsExpired() || m.supertoken.CanRefresh()
}

func (m *Manager) IsRefreshing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshing
}

// Restore loads persisted credentials. A missing record leaves the manager
// empty and is not an error.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	payload, err := m.store.Get(ctx, StoreNamespace, stateKey)
	if err != nil {
		if core.IsNotFound(err) {
			return nil
		}
		return err
	}
	state, err := m.codec.Decode(ctx, payload)
	if err != nil {
		return err
	}
	if state.Supertoken == nil {
		return nil
	}
	state.Supertoken.bind(m.client, m.now)
	for _, child := range state.Children {
		child.bind(m.client, m.now)
	}

	m.mu.Lock()
	m.stopTimerLocked()
	m.supertoken = state.Supertoken
	m.children = state.Children
	m.generation++
	m.mu.Unlock()

	if !state.Supertoken.Expires.IsZero() && state.Supertoken.CanRefresh() {
		m.ScheduleRefresh(state.Supertoken.Expires)
	}
	return nil
}

func (m *Manager) persist(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.mu.Lock()
	state := State{Supertoken: m.supertoken, Children: make(map[string]*Token, len(m.children))}
	for key, child := range m.children {
		state.Children[key] = child
	}
	m.mu.Unlock()
	if state.Supertoken == nil {
		return nil
	}
	payload, err := m.codec.Encode(ctx, state)
	if err != nil {
		return err
	}
	return m.store.Put(ctx, StoreNamespace, stateKey, payload)
}
