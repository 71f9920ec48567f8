// Package server provides HTTP server construction for idp-relay.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/alexjbarnes/idp-relay/internal/api"
	"github.com/alexjbarnes/idp-relay/internal/auth"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Provider     idp.Provider
	Login        api.LoginConfig
	Manage       api.ManageConfig
	ClientConfig models.ClientConfig

	// RequireAdmin guards /api/manage with the admin role check.
	RequireAdmin bool

	// LoginLimiter, when set, rate limits /api/login and /api/refresh.
	LoginLimiter *auth.RateLimiter

	CORSAllowedOrigins []string
	MetricsEnabled     bool
	Logger             *slog.Logger
}

// NewMux builds the HTTP mux with the login, refresh, management and
// client config endpoints under /api, plus health and metrics.
func NewMux(cfg MuxConfig) *http.ServeMux {
	fail := api.ErrorWriter(cfg.Logger)

	apiMux := http.NewServeMux()

	var login, refresh http.Handler = api.HandleLogin(cfg.Provider, cfg.Login, cfg.Logger), api.HandleRefresh(cfg.Provider, cfg.Logger)
	if cfg.LoginLimiter != nil {
		limit := cfg.LoginLimiter.Middleware(fail)
		login, refresh = limit(login), limit(refresh)
	}

	apiMux.Handle("/api/login", login)
	apiMux.Handle("/api/refresh", refresh)
	apiMux.HandleFunc("/api/config", api.HandleClientConfig(cfg.ClientConfig, cfg.Logger))

	var manage http.Handler = api.HandleManage(cfg.Provider, cfg.Manage, cfg.Logger)
	if cfg.RequireAdmin {
		manage = auth.RequireAdmin(cfg.Provider, cfg.Manage.AdminRole, cfg.Logger, fail)(manage)
	}

	apiMux.Handle("/api/manage", api.AllowMethods(api.ManageMethods...)(manage))

	var apiHandler http.Handler = apiMux

	// rs/cors treats an empty origin list as "*", so CORS is only
	// installed when origins are configured.
	if len(cfg.CORSAllowedOrigins) > 0 {
		apiHandler = cors.New(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: append([]string{http.MethodOptions}, api.ManageMethods...),
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         600,
		}).Handler(apiMux)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.HandleFunc("/healthz", api.HandleHealth())

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	return mux
}
