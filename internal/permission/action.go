// ABOUTME: Describes what a user can do about a denied feature
// ABOUTME: Pure data for the UI or CLI to present

package permission

import (
	"fmt"
	"strings"

	"github.com/2389/coven-session/internal/role"
)

// ActionKind tells the presenter which prompt to show.
type ActionKind string

const (
	ActionLogin        ActionKind = "login"
	ActionContactAdmin ActionKind = "contact_admin"
)

// LoginCommand is the command suggested to guests.
const LoginCommand = "coven-auth login"

// DeniedAction is the suggested follow-up for a denied feature.
type DeniedAction struct {
	Message string
	Action  ActionKind
	// Command is a command the user can run, if any.
	Command string
}

// AccessDeniedAction returns the follow-up for feature given the current role.
func (m *Manager) AccessDeniedAction(feature role.Feature) DeniedAction {
	name := featureLabel(feature)
	switch m.CurrentRole() {
	case role.Guest:
		return DeniedAction{
			Message: fmt.Sprintf("Sign in to use %s.", name),
			Action:  ActionLogin,
			Command: LoginCommand,
		}
	case role.Unsubscribed:
		return DeniedAction{
			Message: fmt.Sprintf("Your subscription is inactive. Contact your administrator to use %s.", name),
			Action:  ActionContactAdmin,
		}
	default:
		return DeniedAction{
			Message: fmt.Sprintf("You do not have access to %s. Contact your administrator.", name),
			Action:  ActionContactAdmin,
		}
	}
}

func featureLabel(f role.Feature) string {
	return strings.ReplaceAll(string(f), "_", " ")
}
