// ABOUTME: TokenManager, the only writer of credential storage keys
// ABOUTME: Adds absolute expiry bookkeeping on top of the CredentialStore

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/store"
)

const (
	// DefaultAccessTTL applies when the caller has no better expiry.
	DefaultAccessTTL = 24 * time.Hour
	// DefaultValidityBuffer is how early a token is treated as expired.
	DefaultValidityBuffer = 5 * time.Minute
)

// TokenManager stores and reads the session's credentials. It makes no
// network calls. Writes are sequential; the store guarantees per-key durability.
type TokenManager struct {
	store  store.CredentialStore
	keys   StorageKeys
	now    func() time.Time
	logger *slog.Logger
}

// TokenManagerOption configures a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) { m.now = now }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l *slog.Logger) TokenManagerOption {
	return func(m *TokenManager) { m.logger = l }
}

// NewTokenManager creates a TokenManager over s using keys.
func NewTokenManager(s store.CredentialStore, keys StorageKeys, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		store:  s,
		keys:   keys,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "tokens")
	return m
}

// SetAccessToken stores token and its absolute expiry (now + ttl).
// A non-positive ttl means DefaultAccessTTL.
func (m *TokenManager) SetAccessToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	expiresAt := m.now().Add(ttl).Unix()

	if err := m.store.Set(ctx, m.keys.AccessToken, token); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	if err := m.store.Set(ctx, m.keys.TokenExpiry, strconv.FormatInt(expiresAt, 10)); err != nil {
		return fmt.Errorf("storing token expiry: %w", err)
	}

	m.logger.Debug("access token stored", "token", MaskToken(token), "expires_at", expiresAt)
	return nil
}

// SetRefreshToken stores the refresh token.
func (m *TokenManager) SetRefreshToken(ctx context.Context, token string) error {
	if err := m.store.Set(ctx, m.keys.RefreshToken, token); err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// AccessToken returns the stored access token, or "" when absent.
func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	return m.get(ctx, m.keys.AccessToken)
}

// RefreshToken returns the stored refresh token, or "" when absent.
func (m *TokenManager) RefreshToken(ctx context.Context) (string, error) {
	return m.get(ctx, m.keys.RefreshToken)
}

// ExpiresAt returns the stored absolute expiry.
func (m *TokenManager) ExpiresAt(ctx context.Context) (time.Time, bool) {
	raw, err := m.get(ctx, m.keys.TokenExpiry)
	if err != nil || raw == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger.Warn("ignoring malformed token expiry", "error", err)
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// IsTokenValid reports now < expiresAt - buffer. A missing expiry is invalid.
func (m *TokenManager) IsTokenValid(ctx context.Context, buffer time.Duration) bool {
	expiresAt, ok := m.ExpiresAt(ctx)
	if !ok {
		return false
	}
	return m.now().Before(expiresAt.Add(-buffer))
}

// HasToken reports whether an access token is stored.
func (m *TokenManager) HasToken(ctx context.Context) bool {
	token, err := m.AccessToken(ctx)
	return err == nil && token != ""
}

// SetUserData caches the signed-in user as JSON.
func (m *TokenManager) SetUserData(ctx context.Context, user *api.User) error {
	if user == nil {
		return m.deleteKey(ctx, m.keys.UserData)
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshaling user data: %w", err)
	}
	if err := m.store.Set(ctx, m.keys.UserData, string(data)); err != nil {
		return fmt.Errorf("storing user data: %w", err)
	}
	return nil
}

// UserData returns the cached user, or nil when absent or unreadable.
func (m *TokenManager) UserData(ctx context.Context) (*api.User, error) {
	raw, err := m.get(ctx, m.keys.UserData)
	if err != nil || raw == "" {
		return nil, err
	}
	var user api.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		m.logger.Warn("ignoring malformed cached user data", "error", err)
		return nil, nil
	}
	return &user, nil
}

// ClearTokens deletes the access token, refresh token, expiry, and cached
// user data. Every key is attempted even if an earlier delete fails.
func (m *TokenManager) ClearTokens(ctx context.Context) error {
	var errs []error
	for _, key := range []string{m.keys.AccessToken, m.keys.RefreshToken, m.keys.TokenExpiry, m.keys.UserData} {
		if err := m.deleteKey(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	m.logger.Debug("credentials cleared")
	return nil
}

func (m *TokenManager) get(ctx context.Context, key string) (string, error) {
	v, err := m.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (m *TokenManager) deleteKey(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// MaskToken shortens a secret for logging.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…"
}
