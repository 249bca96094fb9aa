// ABOUTME: Unverified JWT claim extraction for access token bookkeeping
// ABOUTME: Reads exp/sub so stored expiry matches what the service issued

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiryFromJWT returns the exp claim of token without verifying its signature.
// The client never holds the signing key; the service remains the authority
// on validity. ok is false when token is not a JWT or carries no exp.
func ExpiryFromJWT(token string) (expiresAt time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// SubjectFromJWT returns the sub claim of token without verifying its signature.
func SubjectFromJWT(token string) (string, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

// ttlFor derives the TTL to store for token: the JWT exp when present and in
// the future, otherwise fallback.
func ttlFor(token string, now time.Time, fallback time.Duration) time.Duration {
	if exp, ok := ExpiryFromJWT(token); ok && exp.After(now) {
		return exp.Sub(now)
	}
	return fallback
}
