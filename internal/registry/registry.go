// ABOUTME: Service registry built once at process start
// ABOUTME: Wires storage, tokens, API client, event bus, authenticator, and permissions

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/coven-session/internal/api"
	"github.com/2389/coven-session/internal/auth"
	"github.com/2389/coven-session/internal/config"
	"github.com/2389/coven-session/internal/events"
	"github.com/2389/coven-session/internal/metrics"
	"github.com/2389/coven-session/internal/permission"
	"github.com/2389/coven-session/internal/store"
)

// Registry holds the one instance of each component for the process.
// Components receive their collaborators from it; nothing is global.
type Registry struct {
	Config      *config.Config
	Logger      *slog.Logger
	Store       store.CredentialStore
	Strategy    auth.Strategy
	Tokens      *auth.TokenManager
	Client      *api.Client
	Bus         *events.Bus
	Prometheus  *prometheus.Registry
	Metrics     *metrics.Collector
	Auth        *auth.Authenticator
	Permissions *permission.Manager

	closers []func() error
}

// Option customizes construction.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	store      store.CredentialStore
	httpClient *http.Client
}

// WithLogger overrides the logger built from the logging config.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore overrides the configured credential store.
func WithStore(s store.CredentialStore) Option {
	return func(o *options) { o.store = s }
}

// WithHTTPClient overrides the identity service HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(o *options) { o.httpClient = h }
}

// New builds every component from cfg. Call Close when done.
func New(cfg *config.Config, opts ...Option) (*Registry, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	strategy, err := auth.StrategyByName(cfg.API.Variant)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		Config:   cfg,
		Logger:   o.logger,
		Strategy: strategy,
	}

	if o.store != nil {
		r.Store = o.store
	} else {
		s, closer, err := OpenStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		r.Store = s
		if closer != nil {
			r.closers = append(r.closers, closer)
		}
	}

	r.Prometheus = prometheus.NewRegistry()
	r.Prometheus.MustRegister(collectors.NewGoCollector())
	r.Metrics, err = metrics.NewCollector(r.Prometheus)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	r.Bus = events.NewBus(r.Logger)
	r.Tokens = auth.NewTokenManager(r.Store, strategy.Keys, auth.WithTokenLogger(r.Logger))
	r.Client = api.NewClient(cfg.API.BaseURL,
		api.WithHTTPClient(httpClient),
		api.WithAuthPath(strategy.AuthPath),
		api.WithLogger(r.Logger))
	r.Auth = auth.New(AuthConfig(cfg), r.Tokens, r.Client, r.Bus,
		auth.WithLogger(r.Logger),
		auth.WithMetrics(r.Metrics))

	features, err := cfg.Permissions.FeatureMap()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("building feature map: %w", err)
	}
	r.Permissions = permission.NewManager(r.Auth, r.Bus,
		permission.WithFeatureMap(features),
		permission.WithExtendedRoles(cfg.Permissions.ExtendedRoles),
		permission.WithLogger(r.Logger),
		permission.WithMetrics(r.Metrics))

	r.Logger.Debug("registry initialized",
		"base_url", cfg.API.BaseURL,
		"variant", strategy.Name,
		"storage", cfg.Storage.Backend)
	return r, nil
}

// AuthConfig maps the session configuration onto the authenticator's.
func AuthConfig(cfg *config.Config) auth.Config {
	ac := auth.Config{
		ClientID:      cfg.API.ClientID,
		ClientSecret:  cfg.API.ClientSecret,
		CheckInterval: cfg.Session.CheckInterval,
		AccessTTL:     cfg.Session.AccessTTL,
		RefreshBuffer: cfg.Session.RefreshBuffer,
		MaxRetries:    cfg.Session.MaxRetries,
		RetryDelay:    cfg.Session.RetryDelay,
		LogoutTimeout: cfg.Session.LogoutTimeout,
		ExtendedRoles: cfg.Permissions.ExtendedRoles,
	}
	if cfg.Session.DisableRevalidation {
		ac.CheckInterval = -1
	}
	if ac.MaxRetries == 0 {
		ac.MaxRetries = -1
	}
	return ac
}

// OpenStore opens the configured credential store. The returned closer is
// nil for backends that hold no resources.
func OpenStore(cfg config.StorageConfig) (store.CredentialStore, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil, nil

	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			def, err := store.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(filepath.Dir(def), "credentials.db")
		}
		s, err := store.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite credential store: %w", err)
		}
		return s, s.Close, nil

	case config.BackendFile, "":
		path := cfg.Path
		if path == "" {
			def, err := store.DefaultPath()
			if err != nil {
				return nil, nil, err
			}
			path = def
		}
		s, err := store.NewFileStore(path, cfg.Passphrase)
		if err != nil {
			return nil, nil, fmt.Errorf("opening credential file: %w", err)
		}
		return s, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// MetricsHandler serves the registry's prometheus metrics.
func (r *Registry) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.Prometheus, promhttp.HandlerOpts{})
}

// ServeMetrics serves metrics on the configured address until ctx ends.
// It returns nil immediately when metrics are disabled.
func (r *Registry) ServeMetrics(ctx context.Context) error {
	mc := r.Config.Metrics
	if !mc.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(mc.Path, r.MetricsHandler())
	srv := &http.Server{
		Addr:              mc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.Logger.Info("serving metrics", "addr", mc.Addr, "path", mc.Path)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
		return nil
	}
}

// Close tears components down in reverse dependency order.
func (r *Registry) Close() error {
	if r.Permissions != nil {
		r.Permissions.Close()
	}
	if r.Auth != nil {
		r.Auth.Dispose()
	}
	if r.Bus != nil {
		r.Bus.Close()
	}

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the logging config.
func NewLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
