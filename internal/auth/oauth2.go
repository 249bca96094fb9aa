// ABOUTME: oauth2.TokenSource and http.Client views of the session
// ABOUTME: Lets other clients reuse the session's bearer token

package auth

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenSource returns a source that yields the session's access token,
// refreshing it first when it is within RefreshBuffer of expiry.
func (a *Authenticator) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, a: a}
}

// HTTPClient returns an http.Client that authenticates every request with
// the session's access token. A request rejected with 401 is replayed once
// after a successful refresh. The base transport is taken from an
// *http.Client stored in ctx under oauth2.HTTPClient, if any.
func (a *Authenticator) HTTPClient(ctx context.Context) *http.Client {
	var base http.RoundTripper
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc != nil {
		base = hc.Transport
	}
	return &http.Client{Transport: newSessionTransport(a, a.TokenSource(ctx), base)}
}

type sessionTokenSource struct {
	ctx context.Context
	a   *Authenticator
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	tokens := s.a.tokens
	if s.a.IsAuthenticated() && !tokens.IsTokenValid(s.ctx, s.a.cfg.RefreshBuffer) {
		s.a.Refresh(s.ctx)
	}

	access, err := tokens.AccessToken(s.ctx)
	if err != nil {
		return nil, Classify(OpRefresh, err)
	}
	if access == "" {
		return nil, notAuthenticatedError(OpRefresh)
	}

	tok := &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
	if exp, ok := tokens.ExpiresAt(s.ctx); ok {
		tok.Expiry = exp
	}
	return tok, nil
}
