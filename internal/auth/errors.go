// ABOUTME: Auth error taxonomy and the classification of failed operations
// ABOUTME: Maps tagged HTTP and storage failures onto AuthError kinds and codes

package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/store"
)

// Kind is the taxonomy bucket of an AuthError.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNetwork    Kind = "network"
	KindHTTP401    Kind = "http_401"
	KindHTTP403    Kind = "http_403"
	KindHTTP429    Kind = "http_429"
	KindHTTP5xx    Kind = "http_5xx"
	KindUnknown    Kind = "unknown"
)

// Error codes reported in AuthError.Code.
const (
	CodeValidation         = "validation_error"
	CodeNetwork            = "network_error"
	CodeInvalidCredentials = "invalid_credentials"
	CodeTokenExpired       = "token_expired"
	CodeUnauthorized       = "unauthorized"
	CodeAccessDenied       = "access_denied"
	CodeRateLimited        = "rate_limited"
	CodeServerError        = "server_error"
	CodeInvalidResponse    = "invalid_response"
	CodeNotAuthenticated   = "not_authenticated"
	CodeUnknown            = "unknown_error"
	CodeStorage            = store.ErrorCode
)

// Op names the operation that failed; it selects the 401 wording.
type Op string

const (
	OpLogin          Op = "login"
	OpLogout         Op = "logout"
	OpRefresh        Op = "refresh"
	OpVerify         Op = "verify"
	OpFetchUser      Op = "fetch_user"
	OpUpdateProfile  Op = "update_profile"
	OpChangePassword Op = "change_password"
	OpRevalidate     Op = "revalidate"
)

// User-facing messages.
const (
	msgInvalidCredentials = "email or password incorrect"
	msgSessionExpired     = "session expired, please log in again"
	msgWrongPassword      = "current password is incorrect"
	msgUnauthorized       = "authentication required"
	msgAccessDenied       = "access denied"
	msgRateLimited        = "too many requests, please try again later"
	msgServerError        = "authentication service unavailable, please try again later"
	msgNetwork            = "unable to reach the authentication service"
	msgNotAuthenticated   = "not logged in"
)

// AuthError is the recorded outcome of a failed operation.
type AuthError struct {
	Op         Op
	Kind       Kind
	Code       string
	Message    string
	StatusCode *int
	Retryable  bool
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != nil {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, *e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Status returns the HTTP status, or 0 when the failure had none.
func (e *AuthError) Status() int {
	if e == nil || e.StatusCode == nil {
		return 0
	}
	return *e.StatusCode
}

// IsSessionEnding reports whether the failure invalidates the stored credentials.
func (e *AuthError) IsSessionEnding() bool {
	return e != nil && (e.Kind == KindHTTP401 || e.Kind == KindHTTP403)
}

func validationError(op Op, msg string) *AuthError {
	return &AuthError{Op: op, Kind: KindValidation, Code: CodeValidation, Message: msg}
}

func notAuthenticatedError(op Op) *AuthError {
	return &AuthError{Op: op, Kind: KindValidation, Code: CodeNotAuthenticated, Message: msgNotAuthenticated}
}

func invalidResponseError(op Op, msg string) *AuthError {
	return &AuthError{Op: op, Kind: KindUnknown, Code: CodeInvalidResponse, Message: msg, Retryable: true}
}

func sessionExpiredError(op Op) *AuthError {
	return &AuthError{Op: op, Kind: KindHTTP401, Code: CodeTokenExpired, Message: msgSessionExpired}
}

// Classify converts the error of a failed operation into an AuthError.
// It is a pure function of op and the error value.
func Classify(op Op, err error) *AuthError {
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return &AuthError{Op: op, Kind: KindUnknown, Code: CodeStorage, Message: "credential storage failed", Retryable: true, Err: err}
	}

	httpErr, ok := api.AsHTTPError(err)
	if !ok {
		return &AuthError{Op: op, Kind: KindUnknown, Code: CodeUnknown, Message: err.Error(), Retryable: true, Err: err}
	}

	if httpErr.IsNetwork() {
		return &AuthError{Op: op, Kind: KindNetwork, Code: CodeNetwork, Message: msgNetwork, Retryable: true, Err: err}
	}

	status := httpErr.Status
	ae := &AuthError{Op: op, StatusCode: &status, Err: err}
	switch {
	case status == http.StatusUnauthorized:
		ae.Kind = KindHTTP401
		ae.Code, ae.Message = unauthorizedWording(op)
	case status == http.StatusForbidden:
		ae.Kind = KindHTTP403
		ae.Code = CodeAccessDenied
		ae.Message = orDefault(httpErr.ServerMessage(), msgAccessDenied)
	case status == http.StatusTooManyRequests:
		ae.Kind = KindHTTP429
		ae.Code = CodeRateLimited
		ae.Message = msgRateLimited
		ae.Retryable = true
	case status >= 500:
		ae.Kind = KindHTTP5xx
		ae.Code = CodeServerError
		ae.Message = msgServerError
		ae.Retryable = true
	default:
		ae.Kind = KindUnknown
		ae.Code = CodeUnknown
		ae.Message = orDefault(httpErr.ServerMessage(), http.StatusText(status))
		ae.Retryable = true
	}
	return ae
}

func unauthorizedWording(op Op) (code, msg string) {
	switch op {
	case OpLogin:
		return CodeInvalidCredentials, msgInvalidCredentials
	case OpRefresh, OpVerify, OpRevalidate:
		return CodeTokenExpired, msgSessionExpired
	case OpChangePassword:
		return CodeInvalidCredentials, msgWrongPassword
	default:
		return CodeUnauthorized, msgUnauthorized
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
