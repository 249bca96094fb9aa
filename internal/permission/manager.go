// ABOUTME: Role-based feature gating derived from the current session
// ABOUTME: Decisions are cached per AuthState epoch and dropped on every transition

package permission

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/coven-session/internal/auth"
	"github.com/2389/coven-session/internal/events"
	"github.com/2389/coven-session/internal/metrics"
	"github.com/2389/coven-session/internal/role"
)

// StateSource supplies session snapshots and transition notifications.
// *auth.Authenticator satisfies it.
type StateSource interface {
	State() auth.AuthState
	OnStateChange(fn func(auth.AuthState)) string
	RemoveStateListener(id string)
}

// Result is a single access decision.
type Result struct {
	Feature   role.Feature
	Allowed   bool
	Role      role.Role
	Epoch     uint64
	Timestamp time.Time
}

// RoleChange is the detail of an events.PermissionsChanged event.
type RoleChange struct {
	Previous role.Role
	Current  role.Role
	Epoch    uint64
}

// Manager answers feature access questions for the current session.
type Manager struct {
	source   StateSource
	bus      *events.Bus
	features role.FeatureMap
	extended bool
	metrics  *metrics.Collector
	logger   *slog.Logger
	cache    *resultCache
	subID    string

	mu      sync.Mutex
	current role.Role
	epoch   uint64

	evaluations atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithFeatureMap replaces the default role to feature map.
func WithFeatureMap(m role.FeatureMap) Option {
	return func(pm *Manager) { pm.features = m.Clone() }
}

// WithExtendedRoles enables the super_admin role.
func WithExtendedRoles(enabled bool) Option {
	return func(pm *Manager) { pm.extended = enabled }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(pm *Manager) { pm.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(pm *Manager) { pm.metrics = c }
}

// WithCacheSize bounds the number of cached decisions.
func WithCacheSize(n int) Option {
	return func(pm *Manager) { pm.cache = newResultCache(n) }
}

// NewManager creates a Manager and subscribes it to source's transitions.
func NewManager(source StateSource, bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		source:   source,
		bus:      bus,
		features: role.DefaultFeatureMap(),
		logger:   slog.Default(),
		cache:    newResultCache(defaultCacheSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "permissions")

	s := source.State()
	m.current = m.roleOf(s)
	m.epoch = s.Epoch
	m.cache.reset(s.Epoch)
	m.subID = source.OnStateChange(m.onStateChange)
	return m
}

func (m *Manager) roleOf(s auth.AuthState) role.Role {
	return role.FromServer(s.ServerRole, s.Authenticated, m.extended)
}

// onStateChange clears the cache and recomputes the current role.
func (m *Manager) onStateChange(s auth.AuthState) {
	m.cache.reset(s.Epoch)
	next := m.roleOf(s)

	m.mu.Lock()
	if s.Epoch < m.epoch {
		m.mu.Unlock()
		return
	}
	prev := m.current
	m.current = next
	m.epoch = s.Epoch
	m.mu.Unlock()

	if prev == next {
		return
	}
	m.logger.Info("role changed", "from", prev, "to", next, "epoch", s.Epoch)
	if m.bus != nil {
		m.bus.Publish(events.PermissionsChanged, fmt.Sprintf("role changed from %s to %s", prev, next),
			RoleChange{Previous: prev, Current: next, Epoch: s.Epoch})
	}
}

// CurrentRole returns the role of the current session.
func (m *Manager) CurrentRole() role.Role {
	return m.roleOf(m.source.State())
}

// IsLoggedIn reports whether the session is authenticated.
func (m *Manager) IsLoggedIn() bool {
	return m.source.State().Authenticated
}

// IsAdmin reports whether the current role allows every feature.
func (m *Manager) IsAdmin() bool {
	return m.CurrentRole().AllowsEverything()
}

// CanAccess reports whether the current role may use feature.
func (m *Manager) CanAccess(feature role.Feature) bool {
	return m.Check(feature).Allowed
}

// Check returns the access decision for feature. Repeated checks within an
// epoch are answered from the cache.
func (m *Manager) Check(feature role.Feature) Result {
	s := m.source.State()
	if r, ok := m.cache.get(s.Epoch, feature); ok {
		m.metrics.PermissionCheck(r.Allowed, true)
		return r
	}

	r := m.evaluate(s, feature)
	m.cache.put(r)
	m.metrics.PermissionCheck(r.Allowed, false)
	m.logger.Debug("access evaluated", "feature", feature, "role", r.Role, "allowed", r.Allowed, "epoch", r.Epoch)
	return r
}

// Allowed lists the features the current role may use: the built-in
// features first, then any custom ones the map grants.
func (m *Manager) Allowed() []role.Feature {
	candidates := role.AllFeatures()
	for _, f := range m.features[m.CurrentRole()] {
		if !slices.Contains(candidates, f) {
			candidates = append(candidates, f)
		}
	}

	var out []role.Feature
	for _, f := range candidates {
		if m.CanAccess(f) {
			out = append(out, f)
		}
	}
	return out
}

func (m *Manager) evaluate(s auth.AuthState, feature role.Feature) Result {
	m.evaluations.Add(1)
	r := m.roleOf(s)

	var allowed bool
	switch {
	case r.DeniesEverything():
		allowed = false
	case r.AllowsEverything():
		allowed = true
	default:
		allowed = m.features.Allows(r, feature)
	}
	return Result{Feature: feature, Allowed: allowed, Role: r, Epoch: s.Epoch, Timestamp: time.Now()}
}

// Close stops listening for state changes.
func (m *Manager) Close() {
	m.mu.Lock()
	id := m.subID
	m.subID = ""
	m.mu.Unlock()

	if id != "" {
		m.source.RemoveStateListener(id)
	}
}
