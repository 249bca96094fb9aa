// ABOUTME: Immutable AuthState snapshots describing the current session
// ABOUTME: A new snapshot with a new epoch is built on every transition

package auth

import (
	"slices"
	"time"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/role"
)

// AuthState is a point-in-time view of the session. Values are never mutated
// after they are published; every transition builds a new one.
type AuthState struct {
	Authenticated bool
	UserID        string
	Username      string
	Email         string
	Role          role.Role
	// ServerRole is the raw role string reported by the identity service.
	ServerRole  string
	Permissions []string
	ExpiresAt   *time.Time
	// Epoch increases on every transition. Caches derived from the state
	// are only valid for the epoch they were computed in.
	Epoch uint64
}

// GuestState is the unauthenticated state.
func GuestState() AuthState {
	return AuthState{Role: role.Guest}
}

func authenticatedState(user *api.User, expiresAt time.Time, extendedRoles bool) AuthState {
	s := AuthState{Authenticated: true, Role: role.User}
	if user != nil {
		s.UserID = user.ID
		s.Username = user.DisplayName()
		s.Email = user.Email
		s.ServerRole = user.Role
		s.Role = role.FromServer(user.Role, true, extendedRoles)
		s.Permissions = slices.Clone(user.Permissions)
	}
	if !expiresAt.IsZero() {
		exp := expiresAt
		s.ExpiresAt = &exp
	}
	return s
}

// clone returns a copy that shares no mutable memory with s.
func (s AuthState) clone() AuthState {
	out := s
	out.Permissions = slices.Clone(s.Permissions)
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}
