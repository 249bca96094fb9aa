// ABOUTME: Single-flight access token refresh
// ABOUTME: Concurrent callers share one outbound request and one result

package auth

import (
	"context"
	"errors"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/events"
)

const refreshKey = "refresh"

// Refresh exchanges the stored refresh token for a new access token. While a
// refresh is in flight every caller waits on that same request and receives
// its result. A caller whose ctx ends stops waiting and gets false; the
// shared request still completes for the others.
//
// A 401 or 403 from the service means the refresh token itself is no longer
// accepted: the session is logged out and TokenExpired is published.
//
// The result is dropped if a login, logout, or other transition lands while
// the request is in flight.
func (a *Authenticator) Refresh(ctx context.Context) bool {
	ch := a.flight.DoChan(refreshKey, func() (any, error) {
		runCtx, cancel := a.detach(ctx)
		defer cancel()
		return a.refresh(runCtx), nil
	})

	select {
	case res := <-ch:
		ok, _ := res.Val.(bool)
		return ok
	case <-ctx.Done():
		return false
	}
}

func (a *Authenticator) refresh(ctx context.Context) bool {
	start := a.State()
	refreshToken, err := a.tokens.RefreshToken(ctx)
	if err != nil {
		a.metrics.Refresh(false)
		a.fail(Classify(OpRefresh, err))
		return false
	}
	if refreshToken == "" {
		a.metrics.Refresh(false)
		a.record(notAuthenticatedError(OpRefresh))
		return false
	}

	a.metrics.RefreshRequest()
	resp, err := a.client.RefreshToken(ctx, api.RefreshRequest{
		RefreshToken: refreshToken,
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
	})
	if a.disposed.Load() {
		a.logger.Debug("discarding refresh result after dispose")
		return false
	}
	if a.sessionChanged(start) {
		a.logger.Debug("discarding refresh result, session changed while in flight")
		return false
	}
	if err != nil {
		a.metrics.Refresh(false)
		ae := Classify(OpRefresh, err)
		if ae.IsSessionEnding() {
			a.logger.Info("refresh token rejected, ending session", "status", ae.Status())
			a.forceLogout(ctx, reasonExpired, ae)
			return false
		}
		a.fail(ae)
		return false
	}
	if resp.AccessToken == "" {
		a.metrics.Refresh(false)
		a.fail(invalidResponseError(OpRefresh, "refresh response is missing the access token"))
		return false
	}

	state, err := a.storeRefreshed(ctx, start, resp)
	if errors.Is(err, errSessionChanged) {
		a.logger.Debug("discarding refresh result, session changed while in flight")
		return false
	}
	if err != nil {
		a.metrics.Refresh(false)
		a.fail(Classify(OpRefresh, err))
		return false
	}

	a.metrics.Refresh(true)
	a.logger.Debug("access token refreshed", "expires_at", state.ExpiresAt, "rotated", resp.RefreshToken != "")
	a.bus.Publish(events.TokenRefreshed, "access token refreshed", state)
	return true
}

// sessionChanged reports whether a transition has landed since start.
func (a *Authenticator) sessionChanged(start AuthState) bool {
	cur := a.state.Load()
	return cur.Epoch != start.Epoch || cur.Authenticated != start.Authenticated
}

// storeRefreshed writes the new tokens and expiry if the session is still the
// one the refresh started from. The epoch is kept: a refresh does not change
// who the user is.
func (a *Authenticator) storeRefreshed(ctx context.Context, start AuthState, resp *api.RefreshResponse) (AuthState, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if a.sessionChanged(start) {
		return AuthState{}, errSessionChanged
	}
	if err := a.tokens.SetAccessToken(ctx, resp.AccessToken, ttlFor(resp.AccessToken, a.tokens.now(), a.cfg.AccessTTL)); err != nil {
		return AuthState{}, err
	}
	if resp.RefreshToken != "" {
		if err := a.tokens.SetRefreshToken(ctx, resp.RefreshToken); err != nil {
			return AuthState{}, err
		}
	}

	next := a.state.Load().clone()
	if expiresAt, _ := a.tokens.ExpiresAt(ctx); next.Authenticated && !expiresAt.IsZero() {
		next.ExpiresAt = &expiresAt
	}
	a.state.Store(&next)
	return next.clone(), nil
}
