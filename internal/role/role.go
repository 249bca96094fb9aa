// Package role defines coarse authorization roles, gated features, and the
// role-to-feature map that PermissionManager consults.
package role

import (
	"fmt"
	"slices"
	"strings"
)

// Role describes a user's authorization category.
type Role string

const (
	Guest        Role = "guest"
	User         Role = "user"
	Admin        Role = "admin"
	Unsubscribed Role = "unsubscribed"
	// SuperAdmin exists only when extended roles are enabled.
	SuperAdmin Role = "super_admin"
)

// Server-reported role strings.
const (
	serverAdmin       = "admin"
	serverUnsubscribe = "unsubscribe"
	serverSuperAdmin  = "super_admin"
)

// FromServer maps the raw role string reported by the identity service onto a Role.
// Unauthenticated sessions are always Guest. When extended is false, "super_admin"
// is treated as Admin.
func FromServer(raw string, authenticated, extended bool) Role {
	if !authenticated {
		return Guest
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case serverAdmin:
		return Admin
	case serverUnsubscribe, string(Unsubscribed):
		return Unsubscribed
	case serverSuperAdmin:
		if extended {
			return SuperAdmin
		}
		return Admin
	default:
		return User
	}
}

// Parse converts a configured role name into a Role.
func Parse(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	switch r {
	case Guest, User, Admin, Unsubscribed, SuperAdmin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// AllowsEverything reports whether the role bypasses the feature map.
func (r Role) AllowsEverything() bool {
	return r == Admin || r == SuperAdmin
}

// DeniesEverything reports whether the role is locked out regardless of the feature map.
func (r Role) DeniesEverything() bool {
	return r == Unsubscribed
}

// Feature is a named, gatable capability. The set is open: any string is a Feature.
type Feature string

const (
	FeatureChat           Feature = "chat"
	FeatureCodeCompletion Feature = "code_completion"
	FeatureCodeReview     Feature = "code_review"
	FeaturePromptLibrary  Feature = "prompt_library"
	FeatureMCPTools       Feature = "mcp_tools"
	FeatureSettings       Feature = "settings"
	FeatureOrganization   Feature = "organization_management"
	FeatureUserManagement Feature = "user_management"
	FeatureUsageDashboard Feature = "usage_dashboard"
	FeatureDocumentation  Feature = "documentation"
)

// AllFeatures returns the built-in features in declaration order.
func AllFeatures() []Feature {
	return []Feature{
		FeatureChat,
		FeatureCodeCompletion,
		FeatureCodeReview,
		FeaturePromptLibrary,
		FeatureMCPTools,
		FeatureSettings,
		FeatureOrganization,
		FeatureUserManagement,
		FeatureUsageDashboard,
		FeatureDocumentation,
	}
}

// FeatureMap maps each role to the features it may use.
type FeatureMap map[Role][]Feature

// DefaultFeatureMap returns the built-in role-to-feature assignments.
func DefaultFeatureMap() FeatureMap {
	return FeatureMap{
		Guest: {FeatureDocumentation, FeatureSettings},
		User: {
			FeatureChat,
			FeatureCodeCompletion,
			FeatureCodeReview,
			FeaturePromptLibrary,
			FeatureMCPTools,
			FeatureSettings,
			FeatureDocumentation,
		},
		Unsubscribed: {},
	}
}

// Allows looks up feature for r. It does not apply the Admin/Unsubscribed overrides.
func (m FeatureMap) Allows(r Role, feature Feature) bool {
	return slices.Contains(m[r], feature)
}

// Clone returns a deep copy so callers can't mutate a shared map.
func (m FeatureMap) Clone() FeatureMap {
	out := make(FeatureMap, len(m))
	for r, features := range m {
		out[r] = slices.Clone(features)
	}
	return out
}

// Merge returns a copy of m with the roles present in overrides replaced.
func (m FeatureMap) Merge(overrides FeatureMap) FeatureMap {
	out := m.Clone()
	for r, features := range overrides {
		out[r] = slices.Clone(features)
	}
	return out
}

// FeatureMapFromStrings builds a FeatureMap from configuration, validating role names.
func FeatureMapFromStrings(raw map[string][]string) (FeatureMap, error) {
	out := make(FeatureMap, len(raw))
	for name, features := range raw {
		r, err := Parse(name)
		if err != nil {
			return nil, err
		}
		list := make([]Feature, 0, len(features))
		for _, f := range features {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			list = append(list, Feature(f))
		}
		out[r] = list
	}
	return out, nil
}
