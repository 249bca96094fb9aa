// ABOUTME: HTTP transport carrying the session's bearer token
// ABOUTME: A 401 response triggers one refresh and a single replay of the request

package auth

import (
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

// refreshingTransport replays a request once after a successful refresh when
// the first attempt is rejected with 401. Requests whose body cannot be
// re-read are not replayed.
type refreshingTransport struct {
	a    *Authenticator
	base http.RoundTripper
}

func (t *refreshingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, nil
	}
	if !t.a.IsAuthenticated() || !t.a.Refresh(req.Context()) {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	t.a.logger.Debug("replaying request after refresh", "method", req.Method, "path", req.URL.Path)
	return t.base.RoundTrip(retry)
}

func newSessionTransport(a *Authenticator, source oauth2.TokenSource, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &refreshingTransport{
		a:    a,
		base: &oauth2.Transport{Source: source, Base: base},
	}
}
