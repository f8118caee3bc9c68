package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sheetgate/pkg/logging"
)

// refreshConcurrency bounds how many principals the background loop
// refreshes in parallel.
const refreshConcurrency = 4

// RetryPolicy controls backoff for transient refresh failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// ManagerConfig configures the token lifecycle Manager.
type ManagerConfig struct {
	Store    TokenStore
	Upstream Upstream

	// RefreshThreshold is the elapsed fraction of a token's lifetime after
	// which it is refreshed (default 0.8).
	RefreshThreshold float64

	// RefreshInterval is the background loop period (default 5m).
	RefreshInterval time.Duration

	// StatusCacheTTL bounds how long Status answers are reused (default 5m).
	StatusCacheTTL time.Duration

	Retry   RetryPolicy
	Clock   Clock
	Metrics *Metrics
}

type principalState struct {
	pair   *TokenPair
	reauth bool
}

type cachedStatus struct {
	status   TokenStatus
	cachedAt time.Time
}

// Manager owns the live TokenPair of every principal. It hands out valid
// access tokens, refreshes them before they expire and persists every
// replacement through the TokenStore.
//
// A published *TokenPair is never mutated. Replacement swaps the pointer
// under mu, so readers see either the old pair or the new one in full.
type Manager struct {
	store     TokenStore
	upstream  Upstream
	threshold float64
	interval  time.Duration
	statusTTL time.Duration
	retry     RetryPolicy
	clock     Clock
	metrics   *Metrics

	mu         sync.RWMutex
	principals map[string]*principalState
	statuses   map[string]cachedStatus

	locks   keyedMutex
	flights singleflight.Group

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
	running     context.Context
}

// NewManager creates a Manager. Call Start to run the background loop.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil || cfg.Upstream == nil {
		return nil, errors.New("token manager requires a store and an upstream")
	}
	if cfg.RefreshThreshold <= 0 || cfg.RefreshThreshold >= 1 {
		cfg.RefreshThreshold = 0.8
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Minute
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 5 * time.Minute
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Retry.MaxInterval <= 0 {
		cfg.Retry.MaxInterval = 30 * time.Second
	}

	return &Manager{
		store:      cfg.Store,
		upstream:   cfg.Upstream,
		threshold:  cfg.RefreshThreshold,
		interval:   cfg.RefreshInterval,
		statusTTL:  cfg.StatusCacheTTL,
		retry:      cfg.Retry,
		clock:      clockOrDefault(cfg.Clock),
		metrics:    cfg.Metrics,
		principals: make(map[string]*principalState),
		statuses:   make(map[string]cachedStatus),
	}, nil
}

// StoreTokens persists a freshly authorized pair and clears any reauth flag.
// A principal whose stored credential names an upstream account only accepts
// a pair from that same account.
func (m *Manager) StoreTokens(ctx context.Context, principal string, pair *TokenPair) error {
	unlock := m.locks.Lock(principal)
	defer unlock()

	st, err := m.currentLocked(ctx, principal)
	if err != nil {
		return err
	}
	if st != nil && st.pair.Subject != "" && st.pair.Subject != pair.Subject {
		logging.Audit("credential_replacement_rejected",
			"principal", logging.TruncateID(principal),
			"client_id", pair.ClientID)
		return newError(KindPrincipalMismatch, "this principal is bound to a different account", nil)
	}

	if err := m.store.Save(ctx, principal, pair); err != nil {
		return err
	}
	m.publish(principal, &principalState{pair: pair})
	logging.Info("TokenManager", "Stored new credential for principal=%s (expires %s)",
		logging.TruncateID(principal), pair.Expiry.Format(time.RFC3339))
	return nil
}

// publish swaps the principal's state and drops its cached status.
func (m *Manager) publish(principal string, st *principalState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[principal] = st
	delete(m.statuses, principal)
	m.metrics.setReauthRequired(m.countReauthLocked())
}

func (m *Manager) countReauthLocked() int {
	n := 0
	for _, st := range m.principals {
		if st.reauth {
			n++
		}
	}
	return n
}

// current returns the principal's state, loading it from the store on first
// use. The load holds the principal's lock so it cannot race a revocation
// and re-insert a deleted credential.
func (m *Manager) current(ctx context.Context, principal string) (*principalState, error) {
	if st, ok := m.cached(principal); ok {
		return st, nil
	}
	unlock := m.locks.Lock(principal)
	defer unlock()
	return m.currentLocked(ctx, principal)
}

func (m *Manager) cached(principal string) (*principalState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.principals[principal]
	return st, ok
}

// currentLocked is current for callers already holding the principal's lock.
func (m *Manager) currentLocked(ctx context.Context, principal string) (*principalState, error) {
	if st, ok := m.cached(principal); ok {
		return st, nil
	}

	pair, err := m.store.Load(ctx, principal)
	if err != nil {
		return nil, err
	}
	if pair == nil {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.principals[principal]; ok {
		return existing, nil
	}
	st := &principalState{pair: pair}
	m.principals[principal] = st
	return st, nil
}

// GetValidAccessToken returns an access token that is not past the refresh
// threshold, refreshing synchronously when needed. When the upstream is only
// transiently unavailable and the current token has not yet expired, the
// current token is returned instead of the error.
func (m *Manager) GetValidAccessToken(ctx context.Context, principal string) (RedactedToken, error) {
	st, err := m.current(ctx, principal)
	if err != nil {
		return RedactedToken{}, err
	}
	if st == nil {
		return RedactedToken{}, newError(KindNotAuthenticated, "no credential stored, sign in first", nil)
	}
	if st.reauth {
		return RedactedToken{}, newError(KindReauthRequired, "refresh token is no longer valid, sign in again", nil)
	}

	now := m.clock.Now()
	if !st.pair.NeedsRefresh(now, m.threshold) {
		return NewRedactedToken(st.pair.AccessToken), nil
	}

	pair, err := m.refreshShared(ctx, principal, false)
	if err == nil {
		return NewRedactedToken(pair.AccessToken), nil
	}
	if KindOf(err) == KindUpstreamTransientError && !st.pair.Expired(m.clock.Now()) {
		logging.Warn("TokenManager", "Refresh for principal=%s failed transiently, serving current token until %s",
			logging.TruncateID(principal), st.pair.Expiry.Format(time.RFC3339))
		return NewRedactedToken(st.pair.AccessToken), nil
	}
	return RedactedToken{}, err
}

// Refresh forces a refresh for principal regardless of the threshold.
func (m *Manager) Refresh(ctx context.Context, principal string) (*TokenPair, error) {
	return m.refreshShared(ctx, principal, true)
}

// refreshShared collapses concurrent refreshes of one principal into a
// single upstream call. The shared call does not inherit the cancellation of
// the caller that started it; each caller stops waiting on its own ctx.
func (m *Manager) refreshShared(ctx context.Context, principal string, force bool) (*TokenPair, error) {
	key := principal
	if force {
		key = "force:" + principal
	}
	ch := m.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := m.flightContext(ctx)
		defer cancel()
		return m.refresh(flightCtx, principal, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*TokenPair), nil
	case <-ctx.Done():
		return nil, newError(KindUpstreamTransientError, "refresh was abandoned before it completed", ctx.Err())
	}
}

// flightContext keeps ctx's values but not its cancellation. While the
// background loop runs, Stop cancels it. Upstream calls stay bounded by the
// upstream timeout and the retry policy.
func (m *Manager) flightContext(ctx context.Context) (context.Context, context.CancelFunc) {
	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	m.lifecycleMu.Lock()
	running := m.running
	m.lifecycleMu.Unlock()
	if running == nil {
		return flightCtx, cancel
	}
	stop := context.AfterFunc(running, cancel)
	return flightCtx, func() {
		stop()
		cancel()
	}
}

func (m *Manager) refresh(ctx context.Context, principal string, force bool) (*TokenPair, error) {
	unlock := m.locks.Lock(principal)
	defer unlock()

	st, err := m.currentLocked(ctx, principal)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, newError(KindNotAuthenticated, "no credential stored, sign in first", nil)
	}
	if st.reauth {
		return nil, newError(KindReauthRequired, "refresh token is no longer valid, sign in again", nil)
	}
	if !force && !st.pair.NeedsRefresh(m.clock.Now(), m.threshold) {
		return st.pair, nil
	}
	if st.pair.RefreshToken == "" {
		m.markReauth(principal, st.pair, "no refresh token stored")
		return nil, newError(KindReauthRequired, "credential cannot be refreshed, sign in again", nil)
	}

	start := time.Now()
	fresh, err := m.refreshWithRetry(ctx, st.pair.RefreshToken)
	m.metrics.refreshResult(KindOf(err), time.Since(start))
	if err != nil {
		if KindOf(err) == KindReauthRequired {
			m.markReauth(principal, st.pair, "refresh token rejected")
		} else {
			logging.Error("TokenManager", err, "Refresh failed for principal=%s", logging.TruncateID(principal))
		}
		return nil, err
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = st.pair.RefreshToken
	}
	if len(fresh.Scopes) == 0 {
		fresh.Scopes = st.pair.Scopes
	}
	fresh.Subject, fresh.Email, fresh.ClientID = st.pair.Subject, st.pair.Email, st.pair.ClientID

	if err := m.store.Save(ctx, principal, fresh); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	m.publish(principal, &principalState{pair: fresh})

	logging.Info("TokenManager", "Refreshed credential for principal=%s (expires %s)",
		logging.TruncateID(principal), fresh.Expiry.Format(time.RFC3339))
	return fresh, nil
}

// refreshWithRetry retries transient failures with exponential backoff.
// A rejected refresh token or a non-retryable 4xx stops immediately.
func (m *Manager) refreshWithRetry(ctx context.Context, refreshToken string) (*TokenPair, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.retry.InitialInterval
	b.MaxInterval = m.retry.MaxInterval

	attempt := 0
	pair, err := backoff.Retry(ctx, func() (*TokenPair, error) {
		attempt++
		pair, err := m.upstream.Refresh(ctx, refreshToken)
		if err == nil {
			return pair, nil
		}
		if KindOf(err) != KindUpstreamTransientError || errors.Is(err, errUpstreamRejected) {
			return nil, backoff.Permanent(err)
		}
		logging.Debug("TokenManager", "Transient refresh failure (attempt %d/%d): %v", attempt, m.retry.MaxAttempts, err)
		return nil, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(m.retry.MaxAttempts)),
	)
	if err != nil {
		if KindOf(err) == "" {
			return nil, newError(KindUpstreamTransientError, "identity provider is unreachable", err)
		}
		return nil, err
	}
	return pair, nil
}

func (m *Manager) markReauth(principal string, pair *TokenPair, reason string) {
	m.publish(principal, &principalState{pair: pair, reauth: true})
	logging.Audit("reauth_required",
		"principal", logging.TruncateID(principal),
		"reason", reason)
}

// Forget drops the in-memory state for principal. The watcher calls it when
// the record file disappears.
func (m *Manager) Forget(principal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.principals, principal)
	delete(m.statuses, principal)
	m.metrics.setReauthRequired(m.countReauthLocked())
}

// ForgetKey is Forget addressed by PrincipalKey, for filesystem events.
func (m *Manager) ForgetKey(key string) {
	m.mu.RLock()
	var match string
	for principal := range m.principals {
		if PrincipalKey(principal) == key {
			match = principal
			break
		}
	}
	m.mu.RUnlock()
	if match != "" {
		logging.Info("TokenManager", "Credential record for principal=%s was removed", logging.TruncateID(match))
		m.Forget(match)
	}
}

// Revoke deletes the stored credential and forgets the principal.
func (m *Manager) Revoke(ctx context.Context, principal string) error {
	unlock := m.locks.Lock(principal)
	defer unlock()

	if err := m.store.Delete(ctx, principal); err != nil {
		return err
	}
	m.Forget(principal)
	return nil
}

// RevokeOwned revokes principal's credential only when clientID completed
// the authorization that produced it. Credentials owned by another client
// are left in place and reported like a missing one, so the caller learns
// nothing about them. It returns whether a credential was deleted.
func (m *Manager) RevokeOwned(ctx context.Context, principal, clientID string) (bool, error) {
	unlock := m.locks.Lock(principal)
	defer unlock()

	st, err := m.currentLocked(ctx, principal)
	if err != nil {
		return false, err
	}
	if st == nil {
		return false, nil
	}
	if st.pair.ClientID == "" || st.pair.ClientID != clientID {
		logging.Audit("credential_revoke_refused",
			"principal", logging.TruncateID(principal),
			"client_id", clientID)
		return false, nil
	}
	if err := m.store.Delete(ctx, principal); err != nil {
		return false, err
	}
	m.Forget(principal)
	logging.Audit("credential_revoked",
		"principal", logging.TruncateID(principal),
		"client_id", clientID)
	return true, nil
}

// StatusFor is Status as seen by clientID. A credential another client
// authorized is reported as absent.
func (m *Manager) StatusFor(ctx context.Context, principal, clientID string) (TokenStatus, error) {
	status, err := m.Status(ctx, principal)
	if err != nil {
		return TokenStatus{}, err
	}
	if status.Authenticated && status.ClientID != clientID {
		return TokenStatus{Principal: principal}, nil
	}
	return status, nil
}

// Status reports the principal's credential without token values. Answers
// are cached for StatusCacheTTL and never trigger a refresh.
func (m *Manager) Status(ctx context.Context, principal string) (TokenStatus, error) {
	now := m.clock.Now()

	m.mu.RLock()
	cached, ok := m.statuses[principal]
	m.mu.RUnlock()
	if ok && now.Sub(cached.cachedAt) < m.statusTTL {
		return cached.status, nil
	}

	st, err := m.current(ctx, principal)
	if err != nil {
		return TokenStatus{}, err
	}

	status := TokenStatus{Principal: principal}
	if st != nil {
		status.Authenticated = true
		status.ClientID = st.pair.ClientID
		status.ReauthRequired = st.reauth
		status.Scopes = append([]string(nil), st.pair.Scopes...)
		status.ExpiresAt = st.pair.Expiry
		status.ObtainedAt = st.pair.ObtainedAt
		status.HasRefreshToken = st.pair.RefreshToken != ""
		status.NeedsRefresh = st.pair.NeedsRefresh(now, m.threshold)
	}

	m.mu.Lock()
	m.statuses[principal] = cachedStatus{status: status, cachedAt: now}
	m.mu.Unlock()
	return status, nil
}

// ReauthRequired lists the principals waiting for interactive sign-in.
func (m *Manager) ReauthRequired() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for principal, st := range m.principals {
		if st.reauth {
			out = append(out, principal)
		}
	}
	return out
}

// Principals lists the principals with a stored credential.
func (m *Manager) Principals(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Prime loads every stored principal so the background loop covers
// credentials written before this process started.
func (m *Manager) Prime(ctx context.Context) error {
	principals, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	for _, principal := range principals {
		if _, err := m.current(ctx, principal); err != nil {
			logging.Error("TokenManager", err, "Failed to load credential for principal=%s", logging.TruncateID(principal))
		}
	}
	logging.Info("TokenManager", "Loaded %d stored credentials", len(principals))
	return nil
}

// Start launches the background refresh loop. It runs until Stop is called
// or ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.cancel != nil {
		return errors.New("token manager already started")
	}
	if err := m.Prime(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = loopCtx
	m.done = make(chan struct{})
	go m.loop(loopCtx, m.done)

	logging.Info("TokenManager", "Background refresh started (interval %s, threshold %.0f%%)",
		m.interval, m.threshold*100)
	return nil
}

// Stop cancels the background loop, including in-flight upstream calls,
// and waits for it to exit.
func (m *Manager) Stop() {
	m.lifecycleMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done, m.running = nil, nil, nil
	m.lifecycleMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	logging.Info("TokenManager", "Background refresh stopped")
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.refreshDue(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// refreshDue refreshes every principal past the threshold and returns how
// many refreshes succeeded. Failures are logged per principal.
func (m *Manager) refreshDue(ctx context.Context) int {
	now := m.clock.Now()

	m.mu.RLock()
	var due []string
	for principal, st := range m.principals {
		if !st.reauth && st.pair.NeedsRefresh(now, m.threshold) {
			due = append(due, principal)
		}
	}
	m.mu.RUnlock()

	if len(due) == 0 {
		return 0
	}

	var (
		mu        sync.Mutex
		refreshed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, principal := range due {
		g.Go(func() error {
			if _, err := m.refreshShared(gctx, principal, false); err != nil {
				logging.Warn("TokenManager", "Background refresh failed for principal=%s: %s",
					logging.TruncateID(principal), KindOf(err))
				return nil
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logging.Debug("TokenManager", "Background refresh: %d due, %d refreshed", len(due), refreshed)
	return refreshed
}
