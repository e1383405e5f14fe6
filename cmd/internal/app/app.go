// Package app wires the StreamX auth server runtime: config, logging,
// database, HTTP routes, and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamx/cmd/identity"
	authapi "streamx/cmd/internal/auth/api"
	"streamx/cmd/internal/auth/session"
	"streamx/cmd/internal/realtime"
	"streamx/cmd/security/password"
)

// App owns the server's long-lived resources: the connection pool, the
// in-process connection registry, and the wired HTTP handlers.
type App struct {
	cfg Config
	log Logger

	pool *pgxpool.Pool

	registry *realtime.Registry
	ws       *realtime.WSGateway
	auth     *authapi.Handler

	metrics *Metrics
}

// New constructs a fully wired App instance from config and logger.
//
// The database is required: credential, session, and audit storage all
// live in Postgres. There is no degraded in-memory server mode.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errors.New("app: STREAMX_DATABASE_URL is required")
	}

	if cfg.MigrateOnStart {
		if err := RunMigrations(log, cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}

	a, err := newWithPool(cfg, log, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return a, nil
}

func newWithPool(cfg Config, log Logger, pool *pgxpool.Pool) (*App, error) {
	idStore, err := identity.NewPostgresStore(pool)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := session.NewHS256Manager(sessCfg)
	if err != nil {
		return nil, err
	}
	sessions := session.NewService(sessCfg, session.NewPostgresStore(pool), tokens)

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	registry := realtime.NewRegistry(log)

	authHandler, err := authapi.NewHandler(
		log,
		authapi.LoadConfigFromEnv(),
		sessCfg,
		idStore,
		sessions,
		authapi.WithPool(pool),
		authapi.WithRegistry(registry),
		authapi.WithGoogleVerifier(authapi.NewGoogleVerifierFromEnv()),
		authapi.WithEmailSender(newEmailSender(cfg, log)),
		authapi.WithPasswordConfig(pwCfg),
	)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	metrics.TrackWSConnections(registry.ConnectionCount)

	return &App{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		registry: registry,
		ws:       realtime.NewWSGateway(log, registry, authHandler),
		auth:     authHandler,
		metrics:  metrics,
	}, nil
}

// newEmailSender picks the outbound email implementation: log-only in
// dev, dropped otherwise. A real SMTP sender plugs in here.
func newEmailSender(cfg Config, log Logger) authapi.EmailSender {
	if cfg.EmailDevLog {
		return authapi.LogEmailSender{Log: log}
	}
	return authapi.NoopEmailSender{}
}

// Run starts the HTTP server and blocks until context cancellation or a
// fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Addr: a.cfg.HTTPAddr,
		Handler: WithRequestLogging(
			WithSecurityHeaders(WithCORS(a.metrics.WithHTTPMetrics(mux), a.cfg, a.log)),
			a.log,
		),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", runtimeBaseURL(a.cfg.HTTPAddr),
		"ws_url", wsBaseURL(runtimeBaseURL(a.cfg.HTTPAddr))+"/ws",
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.pool.Close()

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL renders a browsable URL for the configured listen
// address, mapping wildcard binds to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an HTTP base URL to its websocket counterpart.
func wsBaseURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return "ws://" + baseURL
	}
}
