// Package api is the client for the identity service's HTTP endpoints.
//
// Every call returns either its decoded success body or an *HTTPError. The
// error is a tagged value: Status is the HTTP status for a response outside
// 2xx, or zero when no response arrived (dial failure, timeout, cancelled
// context). Callers classify failures by inspecting the tag, never by
// matching on transport error types.
//
// Endpoints (relative to the configured base URL, default
// http://localhost:3000/api):
//
//	POST {auth}/login           {email, password, clientId, clientSecret}
//	POST {auth}/logout          {refreshToken}
//	POST {auth}/refresh-token   {refreshToken, clientId, clientSecret}
//	POST {auth}/verify          bearer, {}
//	GET  /users/me              bearer
//	PUT  /users/profile         bearer, profile fields
//	POST /users/change-password bearer, {currentPassword, newPassword}
//
// {auth} is "/auth" by default and is configurable per client so a single
// implementation can target either authentication flow.
package api
