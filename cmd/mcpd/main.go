// Command mcpd serves a demonstration MCP server over streamable HTTP.
//
// Configuration is taken from the environment. The auth mode selects how
// bearer tokens are checked: "introspection" defers to an authorization
// server's RFC 7662 endpoint, "jwt" validates locally against a JWKS, and
// "insecure" disables authentication entirely for local experiments.
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

	"github.com/protocolkit/mcpd/auth"
	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/streaminghttp"
	"github.com/protocolkit/mcpd/toolpack"
)

type config struct {
	ListenAddr     string        `env:"MCPD_LISTEN_ADDR,default=:8080"`
	PublicEndpoint string        `env:"MCPD_PUBLIC_ENDPOINT,default=http://localhost:8080/mcp"`
	ServerName     string        `env:"MCPD_SERVER_NAME,default=mcpd"`
	LogLevel       string        `env:"MCPD_LOG_LEVEL,default=info"`
	ToolPack       string        `env:"MCPD_TOOL_PACK,default=text"`
	HTMLPath       string        `env:"MCPD_HTML_PATH,default=page.html"`
	NotifyInterval time.Duration `env:"MCPD_NOTIFY_INTERVAL,default=0s"`

	AuthMode string `env:"MCPD_AUTH_MODE,default=insecure"`
	Issuer   string `env:"MCPD_AUTH_ISSUER"`
	JWKSURL  string `env:"MCPD_AUTH_JWKS_URL"`
	Audience string `env:"MCPD_AUTH_AUDIENCE"`

	IntrospectionEndpoint     string `env:"MCPD_INTROSPECTION_ENDPOINT"`
	IntrospectionClientID     string `env:"MCPD_INTROSPECTION_CLIENT_ID"`
	IntrospectionClientSecret string `env:"MCPD_INTROSPECTION_CLIENT_SECRET"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mcpd:", err)
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

	tools, err := buildTools(ctx, cfg, log)
	if err != nil {
		return err
	}

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: cfg.ServerName, Version: "0.1.0"}),
		mcpservice.WithInstructions("Demonstration server. Call greet or count; subscribe to the event stream to receive count progress."),
		mcpservice.WithToolsContainer(tools),
	)

	verifier, opts, err := buildVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	opts = append(opts,
		streaminghttp.WithServerName(cfg.ServerName),
		streaminghttp.WithLogger(log),
	)

	handler, err := streaminghttp.New(cfg.PublicEndpoint, server, verifier, opts...)
	if err != nil {
		return fmt.Errorf("failed to build handler: %w", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start",
			slog.String("addr", cfg.ListenAddr),
			slog.String("endpoint", cfg.PublicEndpoint),
			slog.String("auth_mode", cfg.AuthMode))
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
		handler.Registry().Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildTools(ctx context.Context, cfg config, log *slog.Logger) (*mcpservice.ToolsContainer, error) {
	switch cfg.ToolPack {
	case "text":
		return mcpservice.NewToolsContainer(toolpack.TextPack(cfg.NotifyInterval)...), nil
	case "html":
		pack, err := toolpack.NewHTMLPack(ctx, cfg.HTMLPath, log)
		if err != nil {
			return nil, fmt.Errorf("failed to load HTML pack: %w", err)
		}
		return mcpservice.NewToolsContainer(pack.Tools()...), nil
	default:
		return nil, fmt.Errorf("unknown tool pack %q (expected text or html)", cfg.ToolPack)
	}
}

func buildVerifier(ctx context.Context, cfg config) (auth.Verifier, []streaminghttp.Option, error) {
	// The expected token audience falls back to this server's own canonical
	// URL when none is configured.
	audience := cfg.Audience
	if audience == "" {
		audience = cfg.PublicEndpoint
	}

	switch cfg.AuthMode {
	case "insecure":
		return auth.Insecure(), nil, nil
	case "introspection":
		if cfg.IntrospectionEndpoint == "" {
			return nil, nil, errors.New("MCPD_INTROSPECTION_ENDPOINT is required in introspection mode")
		}
		v, err := auth.NewIntrospectionVerifier(auth.IntrospectionConfig{
			Endpoint:     cfg.IntrospectionEndpoint,
			ClientID:     cfg.IntrospectionClientID,
			ClientSecret: cfg.IntrospectionClientSecret,
			Audience:     audience,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build introspection verifier: %w", err)
		}
		opts := []streaminghttp.Option{
			streaminghttp.WithIntrospectionEndpoint(cfg.IntrospectionEndpoint),
		}
		if cfg.Issuer != "" {
			opts = append(opts, streaminghttp.WithAuthorizationServers(cfg.Issuer))
		}
		return v, opts, nil
	case "jwt":
		if cfg.Issuer == "" {
			return nil, nil, errors.New("MCPD_AUTH_ISSUER is required in jwt mode")
		}
		v, err := auth.NewJWTVerifier(ctx, auth.JWTConfig{
			Issuer:   cfg.Issuer,
			JWKSURL:  cfg.JWKSURL,
			Audience: audience,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build JWT verifier: %w", err)
		}
		return v, []streaminghttp.Option{streaminghttp.WithAuthorizationServers(cfg.Issuer)}, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth mode %q (expected insecure, introspection, or jwt)", cfg.AuthMode)
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
