package credentials

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-collab/core"
)

func waitUntil(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestGetUserToken_ConcurrentCallersDuringRefreshShareOneRefresh(t *testing.T) {
	client := &fakeGrantClient{refreshGate: make(chan struct{})}
	manager := newTestManager(client, &fakeScheduler{})
	if err := manager.SetSupertoken(context.Background(), refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}

	refreshed := make(chan error, 1)
	go func() {
		_, err := manager.Refresh(context.Background())
		refreshed <- err
	}()
	waitUntil(t, manager.IsRefreshing)

	const callers = 12
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for idx := 0; idx < callers; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := manager.GetUserToken(context.Background(), "")
			errs[idx] = err
			if token != nil {
				results[idx] = token.AccessToken
			}
		}()
	}
	for idx := 0; idx < 3; idx++ {
		go func() { _, _ = manager.Refresh(context.Background()) }()
	}
	time.Sleep(20 * time.Millisecond)
	close(client.refreshGate)
	wg.Wait()

	if err := <-refreshed; err != nil {
		t.Fatalf("refresh: %v", err)
	}
	refreshCalls, _ := client.counts()
	if refreshCalls != 1 {
		t.Fatalf("expected exactly one network refresh, got %d", refreshCalls)
	}
	for idx := 0; idx < callers; idx++ {
		if errs[idx] != nil {
			t.Fatalf("caller %d: %v", idx, errs[idx])
		}
		if results[idx] != "super-1" {
			t.Fatalf("caller %d observed %q, expected refreshed supertoken", idx, results[idx])
		}
	}
}

func TestGetUserToken_DownscopeIsDedupedPerNormalizedScope(t *testing.T) {
	client := &fakeGrantClient{downscopeGate: make(chan struct{})}
	manager := newTestManager(client, &fakeScheduler{})
	if err := manager.SetSupertoken(context.Background(), refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}

	scopes := []string{"spark:people_read spark:kms", "spark:kms spark:people_read", " spark:kms  spark:people_read spark:kms"}
	var wg sync.WaitGroup
	tokens := make(chan string, 9)
	for idx := 0; idx < 9; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := manager.GetUserToken(context.Background(), scopes[idx%len(scopes)])
			if err != nil {
				t.Errorf("get user token: %v", err)
				return
			}
			tokens <- token.AccessToken
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(client.downscopeGate)
	wg.Wait()
	close(tokens)

	for token := range tokens {
		if token != "super-0|spark:kms spark:people_read" {
			t.Fatalf("unexpected downscoped token %q", token)
		}
	}
	if _, downscopes := client.counts(); downscopes != 1 {
		t.Fatalf("expected one downscope, got %d", downscopes)
	}
	if _, err := manager.GetUserToken(context.Background(), "spark:people_read spark:kms"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if _, downscopes := client.counts(); downscopes != 1 {
		t.Fatalf("expected cached child, got %d downscopes", downscopes)
	}
}

func TestGetUserToken_FullScopeReturnsSupertoken(t *testing.T) {
	client := &fakeGrantClient{}
	manager := newTestManager(client, &fakeScheduler{})
	if _, err := manager.GetUserToken(context.Background(), ""); !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("expected reauth required without supertoken, got %v", err)
	}
	supertoken := refreshableSupertoken(client)
	if err := manager.SetSupertoken(context.Background(), supertoken); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	token, err := manager.GetUserToken(context.Background(), "spark:people_read spark:all spark:kms")
	if err != nil {
		t.Fatalf("get user token: %v", err)
	}
	if token != supertoken {
		t.Fatalf("expected full scope to return the supertoken")
	}
	if _, downscopes := client.counts(); downscopes != 0 {
		t.Fatalf("expected no downscope for full scope")
	}
}

func TestScheduleRefresh_DelayWindow(t *testing.T) {
	scheduler := &fakeScheduler{}
	for _, tc := range []struct {
		random float64
		want   time.Duration
	}{
		{0, 600 * time.Millisecond},
		{0.5, 750 * time.Millisecond},
		{0.9999999, 899 * time.Millisecond},
	} {
		manager := newTestManager(&fakeGrantClient{}, scheduler, WithRandom(func() float64 { return tc.random }))
		delay := manager.ScheduleRefresh(fixedNow.Add(1000 * time.Millisecond))
		if delay != tc.want {
			t.Fatalf("random %.7f: expected %s, got %s", tc.random, tc.want, delay)
		}
		if got := scheduler.last().delay; got != delay {
			t.Fatalf("expected timer armed with %s, got %s", delay, got)
		}
	}

	manager := newTestManager(&fakeGrantClient{}, scheduler)
	for idx := 0; idx < 200; idx++ {
		delay := manager.ScheduleRefresh(fixedNow.Add(time.Second))
		if delay < 600*time.Millisecond || delay >= 900*time.Millisecond {
			t.Fatalf("delay %s outside [600ms, 900ms)", delay)
		}
	}
	if delay := manager.ScheduleRefresh(fixedNow.Add(-time.Minute)); delay != 0 {
		t.Fatalf("expected immediate refresh for expired token, got %s", delay)
	}
}

func TestScheduleRefresh_ReplacesPendingTimer(t *testing.T) {
	scheduler := &fakeScheduler{}
	manager := newTestManager(&fakeGrantClient{}, scheduler)
	manager.ScheduleRefresh(fixedNow.Add(time.Hour))
	first := scheduler.last()
	manager.ScheduleRefresh(fixedNow.Add(time.Hour))
	if !first.isStopped() {
		t.Fatalf("expected previous timer cancelled")
	}
	if err := manager.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if !scheduler.last().isStopped() {
		t.Fatalf("expected invalidate to cancel the timer")
	}
}

func TestRefresh_RotatesChildrenAndRevokesPrevious(t *testing.T) {
	client := &fakeGrantClient{}
	scheduler := &fakeScheduler{}
	manager := newTestManager(client, scheduler)
	ctx := context.Background()
	if err := manager.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	if _, err := manager.GetUserToken(ctx, "spark:kms"); err != nil {
		t.Fatalf("downscope kms: %v", err)
	}
	if _, err := manager.GetUserToken(ctx, "spark:people_read"); err != nil {
		t.Fatalf("downscope people: %v", err)
	}

	next, err := manager.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.RefreshToken != "refresh-0" {
		t.Fatalf("expected refresh token carried over, got %q", next.RefreshToken)
	}
	manager.background.Wait()

	revoked := client.revokedTokens()
	if len(revoked) != 2 {
		t.Fatalf("expected two revoked children, got %#v", revoked)
	}
	child, err := manager.GetUserToken(ctx, "spark:kms")
	if err != nil {
		t.Fatalf("get rotated child: %v", err)
	}
	if child.AccessToken != "super-1|spark:kms" {
		t.Fatalf("expected child derived from refreshed supertoken, got %q", child.AccessToken)
	}
	if _, downscopes := client.counts(); downscopes != 4 {
		t.Fatalf("expected children re-downscoped once each, got %d downscopes", downscopes)
	}
	if timer := scheduler.last(); timer == nil || timer.delay <= 0 {
		t.Fatalf("expected refresh rescheduled")
	}
}

func TestRefresh_RevocationsGoThroughJobQueue(t *testing.T) {
	client := &fakeGrantClient{}
	enqueuer := &recordingEnqueuer{}
	manager := newTestManager(client, &fakeScheduler{}, WithJobEnqueuer(enqueuer))
	ctx := context.Background()
	if err := manager.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	if _, err := manager.GetUserToken(ctx, "spark:kms"); err != nil {
		t.Fatalf("downscope: %v", err)
	}
	if _, err := manager.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	manager.background.Wait()

	if len(enqueuer.messages) != 1 || enqueuer.messages[0].JobID != RevokeJobID {
		t.Fatalf("expected one revoke job, got %#v", enqueuer.messages)
	}
	if len(client.revokedTokens()) != 0 {
		t.Fatalf("expected no inline revocation when a queue is configured")
	}
	if err := manager.HandleRevokeJob(ctx, enqueuer.messages[0]); err != nil {
		t.Fatalf("handle revoke job: %v", err)
	}
	if revoked := client.revokedTokens(); len(revoked) != 1 || revoked[0] != "super-0|spark:kms" {
		t.Fatalf("unexpected revocations %#v", revoked)
	}
}

func TestRefresh_InvalidRequestWipesAndSignalsReauth(t *testing.T) {
	client := &fakeGrantClient{refreshErr: &core.GrantError{Kind: core.GrantInvalidRequest, StatusCode: 400}}
	var callbackErr error
	store := core.NewMemoryKeyValueStore()
	manager := newTestManager(client, &fakeScheduler{},
		WithStore(store),
		OnReauthRequired(func(err error) { callbackErr = err }),
	)
	ctx := context.Background()
	if err := manager.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}

	_, err := manager.Refresh(ctx)
	if !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("expected reauth required, got %v", err)
	}
	if kind, ok := core.GrantErrorKindOf(err); !ok || kind != core.GrantInvalidRequest {
		t.Fatalf("expected grant cause preserved, got %q", kind)
	}
	if manager.Supertoken() != nil || manager.CanAuthorize() {
		t.Fatalf("expected credentials wiped")
	}
	select {
	case <-manager.ReauthRequired():
	default:
		t.Fatalf("expected reauth signal")
	}
	if callbackErr == nil {
		t.Fatalf("expected reauth callback")
	}
	if _, err := store.Get(ctx, StoreNamespace, stateKey); !core.IsNotFound(err) {
		t.Fatalf("expected persisted state cleared, got %v", err)
	}
	if refreshCalls, _ := client.counts(); refreshCalls != 1 {
		t.Fatalf("expected invalid_request not retried, got %d calls", refreshCalls)
	}
}

func TestRefresh_InvalidRequestWaitersNeverSeeWipedSupertoken(t *testing.T) {
	client := &fakeGrantClient{
		refreshGate: make(chan struct{}),
		refreshErr:  &core.GrantError{Kind: core.GrantInvalidRequest, StatusCode: 400},
	}
	manager := newTestManager(client, &fakeScheduler{})
	if err := manager.SetSupertoken(context.Background(), refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}

	refreshed := make(chan error, 1)
	go func() {
		_, err := manager.Refresh(context.Background())
		refreshed <- err
	}()
	waitUntil(t, manager.IsRefreshing)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]*Token, callers)
	errs := make([]error, callers)
	for idx := 0; idx < callers; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[idx], errs[idx] = manager.GetUserToken(context.Background(), "")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(client.refreshGate)
	wg.Wait()

	if err := <-refreshed; !errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("expected reauth required, got %v", err)
	}
	for idx := 0; idx < callers; idx++ {
		if tokens[idx] != nil {
			t.Fatalf("caller %d received wiped supertoken %q", idx, tokens[idx].AccessToken)
		}
		if !errors.Is(errs[idx], core.ErrReauthRequired) {
			t.Fatalf("caller %d: expected reauth required, got %v", idx, errs[idx])
		}
	}
}

func TestRefresh_OtherGrantErrorsKeepCredentials(t *testing.T) {
	client := &fakeGrantClient{refreshErr: &core.GrantError{Kind: core.GrantInvalidGrant}}
	manager := newTestManager(client, &fakeScheduler{})
	ctx := context.Background()
	if err := manager.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	if _, err := manager.Refresh(ctx); err == nil || errors.Is(err, core.ErrReauthRequired) {
		t.Fatalf("expected plain grant error, got %v", err)
	}
	if manager.Supertoken() == nil || manager.IsRefreshing() {
		t.Fatalf("expected credentials kept and refresh settled")
	}
}

func TestRefresh_NotRefreshable(t *testing.T) {
	client := &fakeGrantClient{}
	manager := newTestManager(client, &fakeScheduler{})
	ctx := context.Background()
	token := NewToken(TokenResponse{AccessToken: "a", ExpiresIn: 60}, client, clockAt(fixedNow))
	if err := manager.SetSupertoken(ctx, token); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	if manager.IsRefreshable() {
		t.Fatalf("expected token without refresh token to be non-refreshable")
	}
	if !manager.CanAuthorize() {
		t.Fatalf("expected unexpired token to authorize")
	}
	if _, err := manager.Refresh(ctx); !errors.Is(err, ErrNotRefreshable) {
		t.Fatalf("expected ErrNotRefreshable, got %v", err)
	}
}

func TestInvalidate_IsIdempotent(t *testing.T) {
	client := &fakeGrantClient{}
	manager := newTestManager(client, &fakeScheduler{})
	ctx := context.Background()
	if err := manager.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	for idx := 0; idx < 3; idx++ {
		if err := manager.Invalidate(ctx); err != nil {
			t.Fatalf("invalidate %d: %v", idx, err)
		}
	}
	if manager.Supertoken() != nil || manager.IsRefreshable() {
		t.Fatalf("expected empty manager")
	}
}

func TestRestore_RoundTripsEncryptedState(t *testing.T) {
	client := &fakeGrantClient{}
	store := core.NewMemoryKeyValueStore()
	ctx := context.Background()
	first := newTestManager(client, &fakeScheduler{}, WithStore(store), WithSecretProvider(prefixSecretProvider{}))
	if err := first.Restore(ctx); err != nil {
		t.Fatalf("restore empty store: %v", err)
	}
	if err := first.SetSupertoken(ctx, refreshableSupertoken(client)); err != nil {
		t.Fatalf("set supertoken: %v", err)
	}
	if _, err := first.GetUserToken(ctx, "spark:kms"); err != nil {
		t.Fatalf("downscope: %v", err)
	}

	raw, err := store.Get(ctx, StoreNamespace, stateKey)
	if err != nil {
		t.Fatalf("expected persisted state: %v", err)
	}
	if string(raw[:4]) != "enc:" {
		t.Fatalf("expected sealed state, got %q", raw)
	}

	scheduler := &fakeScheduler{}
	second := newTestManager(client, scheduler, WithStore(store), WithSecretProvider(prefixSecretProvider{}))
	if err := second.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := second.Supertoken(); got == nil || got.AccessToken != "super-0" || !got.CanRefresh() {
		t.Fatalf("unexpected restored supertoken %#v", got)
	}
	child, err := second.GetUserToken(ctx, "spark:kms")
	if err != nil || child.AccessToken != "super-0|spark:kms" {
		t.Fatalf("expected restored child, got %v (%v)", child, err)
	}
	if _, downscopes := client.counts(); downscopes != 1 {
		t.Fatalf("expected restored child to be reused, got %d downscopes", downscopes)
	}
	if scheduler.last() == nil {
		t.Fatalf("expected restore to schedule refresh")
	}
}

func TestRequestGrants_SetSupertoken(t *testing.T) {
	client := &fakeGrantClient{}
	manager := newTestManager(client, &fakeScheduler{})
	token, err := manager.RequestAuthorizationCodeGrant(context.Background(), "abc")
	if err != nil {
		t.Fatalf("authorization code grant: %v", err)
	}
	if manager.Supertoken() != token || token.AccessToken != "code-abc" {
		t.Fatalf("expected authorization code token installed")
	}
	token, err = manager.RequestClientCredentialsGrant(context.Background())
	if err != nil {
		t.Fatalf("client credentials grant: %v", err)
	}
	if manager.Supertoken() != token || manager.IsRefreshable() {
		t.Fatalf("expected client credentials token installed without refresh")
	}
}
