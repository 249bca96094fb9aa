// ABOUTME: Session authenticator orchestrating login, logout, and session state
// ABOUTME: Owns the current AuthState and publishes every transition on the event bus

package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/events"
	"github.com/2389/coven-session/internal/metrics"
)

const (
	// DefaultCheckInterval is the periodic re-validation interval.
	DefaultCheckInterval = 5 * time.Minute
	// MaxCheckInterval caps the configured re-validation interval.
	MaxCheckInterval = 300 * time.Second

	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
	DefaultLogoutTimeout = 5 * time.Second
)

// Logout reasons, used for metrics and logs.
const (
	reasonUser         = "user"
	reasonExpired      = "expired"
	reasonRevalidation = "revalidation"
)

// Config tunes the authenticator.
type Config struct {
	ClientID     string
	ClientSecret string

	// CheckInterval is the periodic re-validation interval. Zero means
	// DefaultCheckInterval, negative disables re-validation, and values above
	// MaxCheckInterval are clamped.
	CheckInterval time.Duration
	// AccessTTL applies to access tokens that carry no exp claim.
	AccessTTL time.Duration
	// RefreshBuffer is how early an access token counts as expired.
	RefreshBuffer time.Duration
	// MaxRetries is the number of additional verify attempts. Zero means
	// DefaultMaxRetries; negative disables retries.
	MaxRetries int
	// RetryDelay is the first backoff delay; each retry doubles it.
	RetryDelay    time.Duration
	LogoutTimeout time.Duration
	// ExtendedRoles enables the super_admin role.
	ExtendedRoles bool
}

func (c Config) withDefaults() Config {
	if c.CheckInterval == 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.CheckInterval > MaxCheckInterval {
		c.CheckInterval = MaxCheckInterval
	}
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshBuffer <= 0 {
		c.RefreshBuffer = DefaultValidityBuffer
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = DefaultLogoutTimeout
	}
	return c
}

// Authenticator is the session authenticator.
type Authenticator struct {
	cfg     Config
	tokens  *TokenManager
	client  *api.Client
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *slog.Logger

	// stateMu serializes transitions so epochs are stored in order. Every
	// credential write that belongs to a session is made while holding it.
	stateMu sync.Mutex
	state   atomic.Pointer[AuthState]
	epoch   atomic.Uint64
	lastErr atomic.Pointer[AuthError]

	// flight coalesces concurrent refresh and verify calls.
	flight singleflight.Group

	// lifetime is cancelled by Dispose; detached work derives from it.
	lifetime context.Context
	shutdown context.CancelFunc

	mu          sync.Mutex
	scheduler   *cron.Cron
	subs        []string
	disposed    atomic.Bool
	disposeOnce sync.Once
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(a *Authenticator) { a.metrics = m }
}

// New creates an Authenticator in the GUEST state. Call Initialize to resume
// a stored session.
func New(cfg Config, tokens *TokenManager, client *api.Client, bus *events.Bus, opts ...Option) *Authenticator {
	a := &Authenticator{
		cfg:    cfg.withDefaults(),
		tokens: tokens,
		client: client,
		bus:    bus,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "authenticator")
	a.lifetime, a.shutdown = context.WithCancel(context.Background())
	if a.bus == nil {
		a.bus = events.NewBus(a.logger)
	}

	guest := GuestState()
	a.state.Store(&guest)
	return a
}

// Tokens returns the token manager.
func (a *Authenticator) Tokens() *TokenManager { return a.tokens }

// State returns the current AuthState snapshot.
func (a *Authenticator) State() AuthState {
	return a.state.Load().clone()
}

// IsAuthenticated reports whether the session is AUTHENTICATED.
func (a *Authenticator) IsAuthenticated() bool {
	return a.state.Load().Authenticated
}

// LastError returns the most recent failure, or nil.
func (a *Authenticator) LastError() *AuthError {
	return a.lastErr.Load()
}

// OnStateChange registers fn for every AuthState transition. The returned ID
// can be passed to the bus to unsubscribe; Dispose releases it as well.
func (a *Authenticator) OnStateChange(fn func(AuthState)) string {
	id := a.bus.Subscribe(func(evt events.Event) {
		if s, ok := evt.Detail.(AuthState); ok {
			fn(s)
		}
	}, events.StateChanged)

	a.mu.Lock()
	a.subs = append(a.subs, id)
	a.mu.Unlock()
	return id
}

// RemoveStateListener cancels a subscription made with OnStateChange.
func (a *Authenticator) RemoveStateListener(id string) {
	a.mu.Lock()
	a.subs = slices.DeleteFunc(a.subs, func(s string) bool { return s == id })
	a.mu.Unlock()
	a.bus.Unsubscribe(id)
}

// Initialize resumes a stored session: if an access token is stored it is
// verified and, on success, the session becomes AUTHENTICATED. A stored
// session that fails verification is cleared.
func (a *Authenticator) Initialize(ctx context.Context) bool {
	start := a.State()
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		a.fail(Classify(OpVerify, err))
		return false
	}
	if token == "" {
		return false
	}

	if !a.tokens.IsTokenValid(ctx, a.cfg.RefreshBuffer) {
		a.logger.Debug("stored access token near expiry, refreshing")
		if a.Refresh(ctx) {
			token, _ = a.tokens.AccessToken(ctx)
		}
	}

	if token == "" || !a.verifyToken(ctx, token, true) {
		a.logger.Info("stored session is no longer valid")
		a.clearStale(context.WithoutCancel(ctx), start)
		return false
	}
	if a.disposed.Load() {
		return false
	}
	// A 401 during verification may have refreshed the token.
	if token, err = a.tokens.AccessToken(ctx); err != nil || token == "" {
		a.logger.Info("stored session disappeared during verification")
		return false
	}

	user, err := a.tokens.UserData(ctx)
	if err != nil {
		a.logger.Warn("failed to read cached user data", "error", err)
	}
	if user == nil {
		if fetched, err := a.client.Me(ctx, token); err == nil {
			user = fetched
			if err := a.tokens.SetUserData(ctx, user); err != nil {
				a.logger.Warn("failed to cache user data", "error", err)
			}
		}
	}

	state, err := a.commit("session restored", func(cur AuthState) (AuthState, error) {
		if cur.Epoch != start.Epoch {
			return AuthState{}, errSessionChanged
		}
		expiresAt, _ := a.tokens.ExpiresAt(ctx)
		return authenticatedState(user, expiresAt, a.cfg.ExtendedRoles), nil
	})
	if err != nil {
		a.logger.Debug("session changed while restoring, keeping the newer one")
		return false
	}
	a.startRevalidation()
	a.logger.Info("session restored", "user_id", state.UserID, "role", state.Role)
	return true
}

// Login authenticates with email and password. It never returns an error;
// failures are recorded in LastError and published as LoginFailed.
func (a *Authenticator) Login(ctx context.Context, email, password string) bool {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		a.loginFailed(validationError(OpLogin, "email and password are required"))
		return false
	}

	resp, err := a.client.Login(ctx, api.LoginRequest{
		Email:        email,
		Password:     password,
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
	})
	if err != nil {
		a.loginFailed(Classify(OpLogin, err))
		return false
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		a.loginFailed(invalidResponseError(OpLogin, "login response is missing tokens"))
		return false
	}

	state, err := a.install(ctx, resp.AccessToken, resp.RefreshToken, resp.User, "logged in")
	if err != nil {
		a.loginFailed(Classify(OpLogin, err))
		return false
	}

	a.metrics.Login(true, "")
	a.logger.Info("login succeeded", "user_id", state.UserID, "role", state.Role)
	a.bus.Publish(events.LoginSuccess, "logged in as "+state.Username, state)
	return true
}

// SetAuthTokenDirectly installs a token obtained outside the login flow (for
// example single sign-on from a companion process). The token is verified
// first and installed only if the service accepts it.
func (a *Authenticator) SetAuthTokenDirectly(ctx context.Context, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		a.fail(validationError(OpVerify, "token is required"))
		return false
	}
	// Verified on its own: a 401 must not fall back to the stored refresh token.
	if !a.verifyToken(ctx, token, false) {
		return false
	}
	if a.disposed.Load() {
		return false
	}

	user, err := a.client.Me(ctx, token)
	if err != nil {
		a.logger.Warn("could not fetch user for injected token", "error", err)
		user = nil
	}

	state, err := a.install(ctx, token, "", user, "token installed")
	if err != nil {
		a.fail(Classify(OpVerify, err))
		return false
	}

	a.logger.Info("external token installed", "user_id", state.UserID, "token", MaskToken(token))
	a.bus.Publish(events.LoginSuccess, "logged in with external token", state)
	return true
}

// install persists credentials, transitions to AUTHENTICATED, and starts
// periodic re-validation. An empty refreshToken leaves the stored one alone.
func (a *Authenticator) install(ctx context.Context, accessToken, refreshToken string, user *api.User, summary string) (AuthState, error) {
	state, err := a.commit(summary, func(AuthState) (AuthState, error) {
		if err := a.tokens.SetAccessToken(ctx, accessToken, ttlFor(accessToken, a.tokens.now(), a.cfg.AccessTTL)); err != nil {
			return AuthState{}, err
		}
		if refreshToken != "" {
			if err := a.tokens.SetRefreshToken(ctx, refreshToken); err != nil {
				return AuthState{}, err
			}
		}
		if err := a.tokens.SetUserData(ctx, user); err != nil {
			return AuthState{}, err
		}
		expiresAt, _ := a.tokens.ExpiresAt(ctx)
		return authenticatedState(user, expiresAt, a.cfg.ExtendedRoles), nil
	})
	if err != nil {
		return AuthState{}, err
	}
	a.startRevalidation()
	return state, nil
}

// Logout ends the session. The server is notified on a best-effort basis;
// local credentials are always cleared and the state always ends GUEST.
func (a *Authenticator) Logout(ctx context.Context) {
	a.logout(ctx, reasonUser)
}

func (a *Authenticator) logout(ctx context.Context, reason string) {
	// Local teardown must not depend on the caller's deadline.
	ctx = context.WithoutCancel(ctx)
	a.stopRevalidation()

	refreshToken, err := a.tokens.RefreshToken(ctx)
	if err != nil {
		a.logger.Warn("could not read refresh token for server logout", "error", err)
	}
	if refreshToken != "" {
		accessToken, _ := a.tokens.AccessToken(ctx)
		notifyCtx, cancel := context.WithTimeout(ctx, a.cfg.LogoutTimeout)
		err := a.client.Logout(notifyCtx, accessToken, api.LogoutRequest{RefreshToken: refreshToken})
		cancel()
		if err != nil {
			a.logger.Warn("server logout failed, clearing local session anyway", "error", err)
		}
	}

	state, _ := a.commit("logged out", func(AuthState) (AuthState, error) {
		if err := a.tokens.ClearTokens(ctx); err != nil {
			a.logger.Error("failed to clear credentials during logout", "error", err)
		}
		return GuestState(), nil
	})
	a.metrics.Logout(reason)
	a.logger.Info("logged out", "reason", reason)
	a.bus.Publish(events.Logout, "logged out", state)
}

// forceLogout ends the session because the credentials are no longer
// accepted and publishes TokenExpired, distinct from the generic AuthError.
func (a *Authenticator) forceLogout(ctx context.Context, reason string, cause *AuthError) {
	a.logout(ctx, reason)
	a.record(cause)
	a.bus.Publish(events.TokenExpired, msgSessionExpired, cause)
}

// AuthHeader returns {"Authorization": "Bearer <token>"}, or nil when no
// access token is stored.
func (a *Authenticator) AuthHeader(ctx context.Context) map[string]string {
	token, err := a.tokens.AccessToken(ctx)
	if err != nil || token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// HasPermission reports whether the current user has role r or the named
// permission. Admins always pass.
func (a *Authenticator) HasPermission(r string) bool {
	s := a.state.Load()
	if !s.Authenticated {
		return false
	}
	if s.Role.AllowsEverything() {
		return true
	}
	return strings.EqualFold(s.ServerRole, r) || slices.Contains(s.Permissions, r)
}

// HasPermissions reports whether every entry of required passes HasPermission.
func (a *Authenticator) HasPermissions(required []string) bool {
	for _, r := range required {
		if !a.HasPermission(r) {
			return false
		}
	}
	return a.IsAuthenticated()
}

// Dispose stops periodic re-validation and releases listeners registered
// through OnStateChange. Requests already in flight are allowed to finish
// but their results are ignored. Safe to call more than once.
func (a *Authenticator) Dispose() {
	a.disposeOnce.Do(func() {
		a.disposed.Store(true)
		a.shutdown()
		a.stopRevalidation()

		a.mu.Lock()
		subs := a.subs
		a.subs = nil
		a.mu.Unlock()

		for _, id := range subs {
			a.bus.Unsubscribe(id)
		}
		a.logger.Debug("authenticator disposed")
	})
}

// transition stores next as the current state under a new epoch and
// publishes StateChanged.
func (a *Authenticator) transition(next AuthState, summary string) AuthState {
	state, _ := a.commit(summary, func(AuthState) (AuthState, error) { return next, nil })
	return state
}

// errSessionChanged reports that a transition was abandoned because another
// one landed while its inputs were being gathered.
var errSessionChanged = errors.New("session changed during the operation")

// commit runs apply under stateMu with the current state and stores the state
// it returns under a new epoch. Credential writes made inside apply cannot
// interleave with another transition. Nothing is stored when apply fails.
func (a *Authenticator) commit(summary string, apply func(cur AuthState) (AuthState, error)) (AuthState, error) {
	a.stateMu.Lock()
	next, err := apply(a.state.Load().clone())
	if err != nil {
		a.stateMu.Unlock()
		return AuthState{}, err
	}
	next.Epoch = a.epoch.Add(1)
	stored := next.clone()
	a.state.Store(&stored)
	a.stateMu.Unlock()

	a.bus.Publish(events.StateChanged, summary, next.clone())
	return next, nil
}

// clearStale removes stored credentials that failed verification, unless a
// transition since start installed a newer session.
func (a *Authenticator) clearStale(ctx context.Context, start AuthState) {
	a.stateMu.Lock()
	cur := a.state.Load()
	if cur.Epoch != start.Epoch {
		a.stateMu.Unlock()
		return
	}
	if err := a.tokens.ClearTokens(ctx); err != nil {
		a.logger.Error("failed to clear stale credentials", "error", err)
	}
	if !cur.Authenticated {
		a.stateMu.Unlock()
		return
	}
	next := GuestState()
	next.Epoch = a.epoch.Add(1)
	stored := next.clone()
	a.state.Store(&stored)
	a.stateMu.Unlock()

	a.bus.Publish(events.StateChanged, "session cleared", next)
}

// detach returns a context that outlives the caller's cancellation but not
// Dispose. Shared single-flight work runs under it.
func (a *Authenticator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(a.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (a *Authenticator) record(ae *AuthError) {
	a.lastErr.Store(ae)
	a.logger.Warn("auth operation failed",
		"op", ae.Op,
		"code", ae.Code,
		"status", ae.Status(),
		"retryable", ae.Retryable)
}

func (a *Authenticator) fail(ae *AuthError) {
	a.record(ae)
	a.bus.Publish(events.AuthError, ae.Message, ae)
}

func (a *Authenticator) loginFailed(ae *AuthError) {
	a.record(ae)
	a.metrics.Login(false, ae.Code)
	a.bus.Publish(events.LoginFailed, ae.Message, ae)
}
