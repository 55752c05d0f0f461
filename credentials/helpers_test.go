package credentials

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-collab/core"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clockAt(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

type fakeGrantClient struct {
	mu             sync.Mutex
	refreshCalls   int
	downscopeCalls int
	revoked        []string
	refreshGate    chan struct{}
	downscopeGate  chan struct{}
	refreshErr     error
	revokeErr      error
	now            func() time.Time
}

func (c *fakeGrantClient) clock() func() time.Time {
	if c.now == nil {
		return clockAt(fixedNow)
	}
	return c.now
}

func (c *fakeGrantClient) AuthorizationCode(_ context.Context, code string) (*Token, error) {
	return NewToken(TokenResponse{AccessToken: "code-" + code, RefreshToken: "refresh-0", ExpiresIn: 3600}, c, c.clock()), nil
}

func (c *fakeGrantClient) RefreshToken(context.Context, string) (*Token, error) {
	c.mu.Lock()
	c.refreshCalls++
	call := c.refreshCalls
	gate := c.refreshGate
	err := c.refreshErr
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return NewToken(TokenResponse{
		AccessToken: fmt.Sprintf("super-%d", call),
		ExpiresIn:   3600,
	}, c, c.clock()), nil
}

func (c *fakeGrantClient) ClientCredentials(context.Context) (*Token, error) {
	return NewToken(TokenResponse{AccessToken: "machine", ExpiresIn: 3600}, c, c.clock()), nil
}

func (c *fakeGrantClient) Downscope(_ context.Context, token *Token, scope string) (*Token, error) {
	c.mu.Lock()
	c.downscopeCalls++
	gate := c.downscopeGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return NewToken(TokenResponse{
		AccessToken: token.AccessToken + "|" + scope,
		Scope:       scope,
		ExpiresIn:   3600,
	}, c, c.clock()), nil
}

func (c *fakeGrantClient) Revoke(_ context.Context, token *Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.revokeErr != nil {
		return c.revokeErr
	}
	c.revoked = append(c.revoked, token.AccessToken)
	return nil
}

func (c *fakeGrantClient) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshCalls, c.downscopeCalls
}

func (c *fakeGrantClient) revokedTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.revoked...)
}

type fakeTimer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return true
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, timer)
	return timer
}

func (s *fakeScheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*core.JobExecutionMessage
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
	return nil
}

type prefixSecretProvider struct{}

func (prefixSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	return []byte("enc:" + base64.StdEncoding.EncodeToString(plaintext)), nil
}

func (prefixSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := string(ciphertext)
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("prefix secret provider: invalid ciphertext")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
}

func newTestManager(client *fakeGrantClient, scheduler *fakeScheduler, options ...Option) *Manager {
	cfg := core.DefaultConfig().Credentials
	cfg.Scope = "spark:all spark:kms spark:people_read"
	base := []Option{
		WithClock(clockAt(fixedNow)),
		WithAfterFunc(scheduler.AfterFunc),
		WithStore(core.NewMemoryKeyValueStore()),
	}
	return NewManager(cfg, client, append(base, options...)...)
}

func refreshableSupertoken(client *fakeGrantClient) *Token {
	return NewToken(TokenResponse{
		AccessToken:  "super-0",
		RefreshToken: "refresh-0",
		ExpiresIn:    3600,
	}, client, clockAt(fixedNow))
}
