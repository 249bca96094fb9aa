// ABOUTME: HTTP client for the identity service's auth and user endpoints
// ABOUTME: JSON over net/http with bearer auth supplied by an oauth2 transport

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:3000/api"
	// DefaultAuthPath prefixes the login/logout/refresh/verify endpoints.
	DefaultAuthPath = "/auth"

	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client talks to the identity service.
type Client struct {
	baseURL  string
	authPath string
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithAuthPath overrides the "/auth" prefix of the session endpoints.
func WithAuthPath(path string) Option {
	return func(c *Client) { c.authPath = "/" + strings.Trim(path, "/") }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  baseURL,
		authPath: DefaultAuthPath,
		http:     &http.Client{Timeout: defaultTimeout},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "api")
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, c.authPath+"/login", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout tells the service to revoke the refresh token. accessToken may be empty.
func (c *Client) Logout(ctx context.Context, accessToken string, req LogoutRequest) error {
	return c.do(ctx, http.MethodPost, c.authPath+"/logout", accessToken, req, nil)
}

// RefreshToken exchanges a refresh token for a new access token.
func (c *Client) RefreshToken(ctx context.Context, req RefreshRequest) (*RefreshResponse, error) {
	var out RefreshResponse
	if err := c.do(ctx, http.MethodPost, c.authPath+"/refresh-token", "", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verify checks that token is still accepted by the service.
func (c *Client) Verify(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, c.authPath+"/verify", token, struct{}{}, nil)
}

// Me fetches the current user.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodGet, "/users/me", token, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("response missing user")
	}
	return out.User, nil
}

// UpdateProfile writes profile fields and returns the updated user.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]any) (*User, error) {
	var out userEnvelope
	if err := c.do(ctx, http.MethodPut, "/users/profile", token, fields, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("response missing user")
	}
	return out.User, nil
}

// ChangePassword changes the current user's password.
func (c *Client) ChangePassword(ctx context.Context, token string, req ChangePasswordRequest) error {
	return c.do(ctx, http.MethodPost, "/users/change-password", token, req, nil)
}

// clientFor returns an http.Client that attaches token as a bearer header.
func (c *Client) clientFor(token string) *http.Client {
	if token == "" {
		return c.http
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &http.Client{
		Transport:     &oauth2.Transport{Source: source, Base: c.http.Transport},
		Timeout:       c.http.Timeout,
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.clientFor(token).Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return &HTTPError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &HTTPError{Err: fmt.Errorf("reading response: %w", err)}
	}

	c.logger.Debug("request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode, Body: data}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
