// Package auth implements the client side of a user session against the
// coven identity service.
//
// # Credentials
//
// TokenManager is the only component that reads or writes the credential
// keys (access token, refresh token, absolute expiry, cached user). It sits
// on a store.CredentialStore and never talks to the network. The key names
// and the auth endpoint prefix come from a Strategy: FullStrategy uses
// "/auth" and the coven.auth.* keys, SimpleStrategy uses "/simple-auth" and
// the coven.simpleAuth.* keys.
//
// # Session State
//
// Authenticator owns the session. It starts as a guest and moves to
// authenticated on Login, SetAuthTokenDirectly, or a successful Initialize.
// Every transition builds a new AuthState with a larger Epoch and publishes
// it on the event bus as events.StateChanged. A token refresh keeps the
// epoch; only the expiry changes.
//
// Logout always ends in the guest state. The service is told to revoke the
// refresh token on a best-effort basis, bounded by Config.LogoutTimeout.
//
// # Refresh and Verification
//
// Refresh is single-flight: concurrent callers share one outbound request
// and one result. A 401 or 403 on refresh ends the session and publishes
// events.TokenExpired.
//
// Verification retries network, 429, and 5xx failures with exponential
// backoff (RetryDelay, then doubling, for up to MaxRetries extra attempts).
// A 401 is not retried; the outcome of Refresh is used instead. While
// authenticated, the token is re-verified every CheckInterval and a failure
// ends the session.
//
// # Errors
//
// Operations report success as a bool. Failures are classified into an
// AuthError (see Classify), kept as LastError, and published on the bus.
package auth
