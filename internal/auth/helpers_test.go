// ABOUTME: Shared fixtures for auth tests: fake identity service, log capture, harness
// ABOUTME: The fake service counts hits per path and records when each arrived

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/events"
	"github.com/2389/coven-session/internal/store"
)

// fakeService is an httptest identity service with per-path handlers.
type fakeService struct {
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string][]time.Time
	bodies   map[string][]map[string]any
}

func newFakeService(t *testing.T) *fakeService {
	t.Helper()
	f := &fakeService{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string][]time.Time),
		bodies:   make(map[string][]map[string]any),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeService) serve(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.hits[r.URL.Path] = append(f.hits[r.URL.Path], time.Now())
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)
	h := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if h == nil {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func (f *fakeService) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeService) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hits[path])
}

func (f *fakeService) times(path string) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.hits[path]...)
}

func (f *fakeService) lastBody(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[path]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(status int, v any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, status, v) }
}

// dropConnection closes the connection without a response.
func dropConnection(w http.ResponseWriter, _ *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		panic("response writer does not support hijacking")
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		panic(err)
	}
	conn.Close()
}

func loginOK(access, refresh string, user map[string]any) http.HandlerFunc {
	return respond(http.StatusOK, map[string]any{
		"accessToken":  access,
		"refreshToken": refresh,
		"user":         user,
	})
}

// logCapture collects slog records for assertions.
type logCapture struct {
	mu      sync.Mutex
	records []capturedRecord
}

type capturedRecord struct {
	msg   string
	attrs map[string]any
}

func (c *logCapture) find(msg string) []capturedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedRecord
	for _, r := range c.records {
		if r.msg == msg {
			out = append(out, r)
		}
	}
	return out
}

type captureHandler struct {
	c     *logCapture
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.records = append(h.c.records, capturedRecord{msg: r.Message, attrs: attrs})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{c: h.c, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

// harness wires an Authenticator to a fake service over a memory store.
type harness struct {
	svc    *fakeService
	store  *store.MemoryStore
	tokens *TokenManager
	bus    *events.Bus
	logs   *logCapture
	auth   *Authenticator
}

// testConfig disables periodic re-validation and keeps retries fast.
func testConfig() Config {
	return Config{
		ClientID:      "coven-cli",
		ClientSecret:  "s3cret",
		CheckInterval: -1,
		RetryDelay:    10 * time.Millisecond,
		LogoutTimeout: 200 * time.Millisecond,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		svc:   newFakeService(t),
		store: store.NewMemoryStore(),
		logs:  &logCapture{},
	}
	logger := slog.New(&captureHandler{c: h.logs})
	h.tokens = NewTokenManager(h.store, FullStrategy.Keys, WithTokenLogger(logger))
	h.bus = events.NewBus(logger)
	client := api.NewClient(h.svc.srv.URL, api.WithLogger(logger))
	h.auth = New(cfg, h.tokens, client, h.bus, WithLogger(logger))
	t.Cleanup(func() {
		h.auth.Dispose()
		h.bus.Close()
	})
	return h
}

// recordEvents subscribes to types and returns a snapshot func.
func (h *harness) recordEvents(types ...events.EventType) func() []events.Event {
	var mu sync.Mutex
	var got []events.Event
	h.bus.Subscribe(func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, types...)
	return func() []events.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]events.Event(nil), got...)
	}
}

// seedSession stores a token pair as if a previous login had happened.
func (h *harness) seedSession(t *testing.T, access, refresh string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.tokens.SetAccessToken(ctx, access, time.Hour))
	if refresh != "" {
		require.NoError(t, h.tokens.SetRefreshToken(ctx, refresh))
	}
}

// login performs a successful login as a user with the given role.
func (h *harness) login(t *testing.T, serverRole string) {
	t.Helper()
	h.svc.handle("/auth/login", loginOK("T1", "R1", map[string]any{"id": "u1", "email": "a@b.com", "role": serverRole}))
	require.True(t, h.auth.Login(context.Background(), "a@b.com", "secret"))
}

func makeJWT(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub}
	if !exp.IsZero() {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return token
}
