// Command authd serves the companion OAuth 2.0 authorization server.
//
// It supports RFC 7591 dynamic registration, the authorization code grant
// with mandatory PKCE (S256 only), and RFC 7662 introspection. State lives
// in memory by default or in Redis when AUTHD_STORE=redis.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/protocolkit/mcpd/authserver"
	"github.com/protocolkit/mcpd/authserver/storage"
	"github.com/protocolkit/mcpd/authserver/storage/memory"
	"github.com/protocolkit/mcpd/authserver/storage/redisstore"
)

type config struct {
	ListenAddr string `env:"AUTHD_LISTEN_ADDR,default=:9090"`
	Issuer     string `env:"AUTHD_ISSUER,default=http://localhost:9090"`
	LogLevel   string `env:"AUTHD_LOG_LEVEL,default=info"`

	TokenFormat   string        `env:"AUTHD_TOKEN_FORMAT,default=opaque"`
	TokenLifetime time.Duration `env:"AUTHD_TOKEN_LIFETIME,default=1h"`
	CodeLifetime  time.Duration `env:"AUTHD_CODE_LIFETIME,default=5m"`
	Audience      string        `env:"AUTHD_AUDIENCE"`
	Scopes        string        `env:"AUTHD_SCOPES"`

	Store     string `env:"AUTHD_STORE,default=memory"`
	RedisAddr string `env:"AUTHD_REDIS_ADDR,default=localhost:6379"`

	RegistrationRateLimit int `env:"AUTHD_REGISTRATION_RATE_LIMIT,default=0"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "authd:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}

	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	srv, err := authserver.NewServer(authserver.Config{
		Issuer:          strings.TrimRight(cfg.Issuer, "/"),
		Audience:        cfg.Audience,
		SupportedScopes: strings.Fields(cfg.Scopes),
		CodeLifetime:    cfg.CodeLifetime,
		TokenLifetime:   cfg.TokenLifetime,
		TokenFormat:     authserver.TokenFormat(cfg.TokenFormat),
	}, store, log)
	if err != nil {
		return fmt.Errorf("failed to build authorization server: %w", err)
	}

	var opts []authserver.HandlerOption
	if cfg.RegistrationRateLimit > 0 {
		opts = append(opts, authserver.WithRegistrationRateLimit(cfg.RegistrationRateLimit))
	}
	handler := authserver.NewHandler(srv, log, opts...)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start",
			slog.String("addr", cfg.ListenAddr),
			slog.String("issuer", cfg.Issuer),
			slog.String("token_format", cfg.TokenFormat),
			slog.String("store", cfg.Store))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("server.shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildStore(ctx context.Context, cfg config) (storage.Store, error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), nil
	case "redis":
		st, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q (expected memory or redis)", cfg.Store)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
