package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/idp-relay/internal/api"
	"github.com/alexjbarnes/idp-relay/internal/auth"
	"github.com/alexjbarnes/idp-relay/internal/config"
	"github.com/alexjbarnes/idp-relay/internal/logging"
	"github.com/alexjbarnes/idp-relay/internal/models"
	"github.com/alexjbarnes/idp-relay/internal/server"
)

var Version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.IsProduction(), cfg.LogLevel)
	logger.Info("idp-relay starting",
		slog.String("version", Version),
		slog.String("provider", cfg.Provider),
		slog.String("domain", cfg.Domain),
		slog.String("login_flow", cfg.LoginFlow),
		slog.Bool("require_admin", cfg.ManageRequireAdmin),
	)

	if !cfg.ManageRequireAdmin {
		logger.Warn("management endpoint is not protected by the admin check")
	}

	provider, err := server.NewProvider(cfg, nil, logger)
	if err != nil {
		return err
	}

	var limiter *auth.RateLimiter
	if cfg.LoginRateLimit > 0 {
		limiter = auth.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateBurst)
		defer limiter.Stop()
	}

	httpLogger := logger.With(slog.String("service", "http"))

	mux := server.NewMux(server.MuxConfig{
		Provider: provider,
		Login: api.LoginConfig{
			Flow:        cfg.LoginFlow,
			RedirectURI: cfg.LoginRedirectURI,
		},
		Manage: api.ManageConfig{AdminRole: cfg.AdminRole},
		ClientConfig: models.ClientConfig{
			Provider:    cfg.Provider,
			Domain:      cfg.Domain,
			ClientID:    cfg.ClientID,
			Audience:    cfg.Audience,
			LoginFlow:   cfg.LoginFlow,
			RedirectURI: cfg.LoginRedirectURI,
		},
		RequireAdmin:       cfg.ManageRequireAdmin,
		LoginLimiter:       limiter,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsEnabled:     cfg.MetricsEnabled,
		Logger:             httpLogger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx, server.NewHTTPServer(cfg.ListenAddr, mux), httpLogger)
	})

	return g.Wait()
}
