// ABOUTME: User profile operations: fetch, update, and password change
// ABOUTME: A 401 triggers one refresh and a single retry of the call

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/coven-session/internal/api"
)

// CurrentUser returns the cached user record, or nil.
func (a *Authenticator) CurrentUser(ctx context.Context) *api.User {
	user, err := a.tokens.UserData(ctx)
	if err != nil {
		a.logger.Warn("failed to read cached user data", "error", err)
		return nil
	}
	return user
}

// RefreshUser fetches the signed-in user and rebuilds the state from it.
func (a *Authenticator) RefreshUser(ctx context.Context) bool {
	var user *api.User
	ok := a.withSession(ctx, OpFetchUser, func(token string) error {
		var err error
		user, err = a.client.Me(ctx, token)
		return err
	})
	return ok && a.applyUser(ctx, OpFetchUser, user)
}

// UpdateProfile writes profile fields and adopts the returned user.
func (a *Authenticator) UpdateProfile(ctx context.Context, fields map[string]any) bool {
	if len(fields) == 0 {
		a.fail(validationError(OpUpdateProfile, "no profile fields to update"))
		return false
	}

	var user *api.User
	ok := a.withSession(ctx, OpUpdateProfile, func(token string) error {
		var err error
		user, err = a.client.UpdateProfile(ctx, token, fields)
		return err
	})
	return ok && a.applyUser(ctx, OpUpdateProfile, user)
}

// ChangePassword changes the signed-in user's password.
func (a *Authenticator) ChangePassword(ctx context.Context, current, next string) bool {
	if current == "" || strings.TrimSpace(next) == "" {
		a.fail(validationError(OpChangePassword, "current and new password are required"))
		return false
	}
	if current == next {
		a.fail(validationError(OpChangePassword, "new password must differ from the current password"))
		return false
	}

	ok := a.withSession(ctx, OpChangePassword, func(token string) error {
		return a.client.ChangePassword(ctx, token, api.ChangePasswordRequest{
			CurrentPassword: current,
			NewPassword:     next,
		})
	})
	if ok {
		a.logger.Info("password changed")
	}
	return ok
}

// withSession runs call with the stored access token. If the service answers
// 401 the token is refreshed and call is retried once. For a password change
// a 401 means the current password is wrong, so there is no retry.
func (a *Authenticator) withSession(ctx context.Context, op Op, call func(token string) error) bool {
	if !a.IsAuthenticated() {
		a.fail(notAuthenticatedError(op))
		return false
	}
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		a.fail(Classify(op, err))
		return false
	}
	if token == "" {
		a.fail(notAuthenticatedError(op))
		return false
	}

	err = call(token)
	if err == nil {
		return true
	}
	ae := Classify(op, err)
	if ae.Kind == KindHTTP401 && op != OpChangePassword {
		if !a.Refresh(ctx) {
			return false
		}
		token, _ = a.tokens.AccessToken(ctx)
		if err = call(token); err == nil {
			return true
		}
		ae = Classify(op, err)
	}
	a.fail(ae)
	return false
}

// applyUser caches user and transitions to a state built from it.
func (a *Authenticator) applyUser(ctx context.Context, op Op, user *api.User) bool {
	if a.disposed.Load() {
		return false
	}
	if user == nil {
		a.fail(invalidResponseError(op, "response is missing the user"))
		return false
	}
	_, err := a.commit("user updated", func(cur AuthState) (AuthState, error) {
		if !cur.Authenticated {
			return AuthState{}, errSessionChanged
		}
		if err := a.tokens.SetUserData(ctx, user); err != nil {
			return AuthState{}, err
		}
		expiresAt, _ := a.tokens.ExpiresAt(ctx)
		return authenticatedState(user, expiresAt, a.cfg.ExtendedRoles), nil
	})
	if errors.Is(err, errSessionChanged) {
		a.fail(notAuthenticatedError(op))
		return false
	}
	if err != nil {
		a.fail(Classify(op, err))
		return false
	}
	return true
}
