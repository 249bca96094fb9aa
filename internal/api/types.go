// ABOUTME: Request and response shapes for the identity service endpoints
// ABOUTME: JSON field names match the service's camelCase wire format

package api

// User is the identity service's view of the signed-in user.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Username    string   `json:"username,omitempty"`
	Name        string   `json:"name,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// DisplayName returns the best available human-readable name.
func (u *User) DisplayName() string {
	switch {
	case u == nil:
		return ""
	case u.Username != "":
		return u.Username
	case u.Name != "":
		return u.Name
	default:
		return u.Email
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// LoginResponse is the success body of POST /auth/login.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user"`
}

// LogoutRequest is the body of POST /auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshRequest is the body of POST /auth/refresh-token.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// RefreshResponse is the success body of POST /auth/refresh-token.
// RefreshToken is empty when the service does not rotate it.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// ChangePasswordRequest is the body of POST /users/change-password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// userEnvelope wraps responses shaped {user: {...}}.
type userEnvelope struct {
	User *User `json:"user"`
}
