// ABOUTME: Tests for periodic session re-validation
// ABOUTME: Covers the scheduled job, forced logout on failure, and scheduler teardown

package auth

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-session/internal/events"
)

func TestRevalidate_FailureEndsSession(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")
	h.svc.handle(verifyPath, respond(http.StatusForbidden, nil))
	h.svc.handle("/auth/logout", respond(http.StatusOK, nil))
	expired := h.recordEvents(events.TokenExpired)

	h.auth.revalidate()

	assert.False(t, h.auth.IsAuthenticated())
	assert.Equal(t, 0, h.store.Len())
	require.Len(t, expired(), 1)
	assert.Equal(t, CodeTokenExpired, h.auth.LastError().Code)
}

func TestRevalidate_SuccessKeepsSession(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")
	h.svc.handle(verifyPath, respond(http.StatusOK, nil))
	epoch := h.auth.State().Epoch

	h.auth.revalidate()

	assert.True(t, h.auth.IsAuthenticated())
	assert.Equal(t, epoch, h.auth.State().Epoch)
}

func TestRevalidate_SkippedForGuest(t *testing.T) {
	h := newHarness(t, testConfig())

	h.auth.revalidate()

	assert.Equal(t, 0, h.svc.count(verifyPath))
}

func TestRevalidate_ScheduledAfterLogin(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Second
	h := newHarness(t, cfg)
	h.svc.handle(verifyPath, respond(http.StatusOK, nil))

	h.login(t, "user")

	require.Eventually(t, func() bool { return h.svc.count(verifyPath) >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.True(t, h.auth.IsAuthenticated())
}

func TestRevalidate_ScheduledFailureLogsOut(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Second
	h := newHarness(t, cfg)
	h.login(t, "user")
	h.svc.handle(verifyPath, respond(http.StatusUnauthorized, nil))
	h.svc.handle(refreshPath, respond(http.StatusUnauthorized, nil))
	h.svc.handle("/auth/logout", respond(http.StatusOK, nil))

	require.Eventually(t, func() bool { return !h.auth.IsAuthenticated() }, 3*time.Second, 20*time.Millisecond)
	assert.False(t, h.tokens.HasToken(context.Background()))
}

func TestRevalidate_StoppedOnLogoutAndDispose(t *testing.T) {
	cfg := testConfig()
	cfg.CheckInterval = time.Second
	h := newHarness(t, cfg)
	h.svc.handle("/auth/logout", respond(http.StatusOK, nil))

	h.login(t, "user")
	h.auth.mu.Lock()
	running := h.auth.scheduler != nil
	h.auth.mu.Unlock()
	require.True(t, running)

	h.auth.Logout(context.Background())
	h.auth.mu.Lock()
	assert.Nil(t, h.auth.scheduler)
	h.auth.mu.Unlock()

	h.login(t, "user")
	h.auth.Dispose()
	h.auth.mu.Lock()
	assert.Nil(t, h.auth.scheduler)
	h.auth.mu.Unlock()

	h.auth.startRevalidation()
	h.auth.mu.Lock()
	assert.Nil(t, h.auth.scheduler)
	h.auth.mu.Unlock()
}

func TestRevalidate_DisabledByNegativeInterval(t *testing.T) {
	h := newHarness(t, testConfig())
	h.login(t, "user")

	h.auth.mu.Lock()
	defer h.auth.mu.Unlock()
	assert.Nil(t, h.auth.scheduler)
}
