// ABOUTME: Tests for user profile operations
// ABOUTME: Covers state rebuild from the returned user and the refresh-then-retry rule

package auth

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-session/internal/role"
)

func TestUpdateProfile_AdoptsReturnedUser(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")
	epoch := h.auth.State().Epoch
	h.svc.handle("/users/profile", respond(http.StatusOK, map[string]any{
		"user": map[string]any{"id": "u1", "username": "ada", "role": "user"},
	}))

	require.True(t, h.auth.UpdateProfile(context.Background(), map[string]any{"username": "ada"}))

	state := h.auth.State()
	assert.Equal(t, "ada", state.Username)
	assert.Greater(t, state.Epoch, epoch)
	assert.Equal(t, "ada", h.svc.lastBody("/users/profile")["username"])
	assert.Equal(t, "ada", h.auth.CurrentUser(context.Background()).Username)
}

func TestUpdateProfile_RetriesOnceAfterRefresh(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")
	h.svc.handle(refreshPath, respond(http.StatusOK, map[string]any{"accessToken": "T2"}))

	var calls atomic.Int32
	var lastAuth atomic.Value
	h.svc.handle("/users/profile", func(w http.ResponseWriter, r *http.Request) {
		lastAuth.Store(r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			writeJSON(w, http.StatusUnauthorized, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"id": "u1", "name": "Ada"}})
	})

	require.True(t, h.auth.UpdateProfile(context.Background(), map[string]any{"name": "Ada"}))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 1, h.svc.count(refreshPath))
	assert.Equal(t, "Bearer T2", lastAuth.Load())
}

func TestUpdateProfile_Validation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")

	assert.False(t, h.auth.UpdateProfile(context.Background(), nil))
	assert.Equal(t, CodeValidation, h.auth.LastError().Code)
	assert.Equal(t, 0, h.svc.count("/users/profile"))
}

func TestUpdateProfile_RequiresSession(t *testing.T) {
	h := newHarness(t, testConfig())

	assert.False(t, h.auth.UpdateProfile(context.Background(), map[string]any{"name": "Ada"}))
	assert.Equal(t, CodeNotAuthenticated, h.auth.LastError().Code)
}

func TestChangePassword(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.login(t, "user")
		h.svc.handle("/users/change-password", respond(http.StatusOK, nil))

		require.True(t, h.auth.ChangePassword(context.Background(), "old", "new"))
		body := h.svc.lastBody("/users/change-password")
		assert.Equal(t, "old", body["currentPassword"])
		assert.Equal(t, "new", body["newPassword"])
	})

	t.Run("wrong current password is not retried", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.login(t, "user")
		h.svc.handle("/users/change-password", respond(http.StatusUnauthorized, nil))

		require.False(t, h.auth.ChangePassword(context.Background(), "old", "new"))
		assert.Equal(t, 0, h.svc.count(refreshPath))
		assert.Equal(t, "current password is incorrect", h.auth.LastError().Message)
		assert.True(t, h.auth.IsAuthenticated())
	})

	t.Run("validation", func(t *testing.T) {
		h := newHarness(t, testConfig())
		h.login(t, "user")

		assert.False(t, h.auth.ChangePassword(context.Background(), "same", "same"))
		assert.False(t, h.auth.ChangePassword(context.Background(), "", "new"))
		assert.Equal(t, 0, h.svc.count("/users/change-password"))
	})
}

func TestRefreshUser_PicksUpRoleChange(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")
	h.svc.handle("/users/me", respond(http.StatusOK, map[string]any{
		"user": map[string]any{"id": "u1", "role": "unsubscribed"},
	}))

	require.True(t, h.auth.RefreshUser(context.Background()))
	assert.Equal(t, role.Unsubscribed, h.auth.State().Role)
}
