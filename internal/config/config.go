package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Supported identity providers.
const (
	ProviderAuth0 = "auth0"
	ProviderOkta  = "okta"
)

// Supported login flows. A deployment accepts exactly one.
const (
	LoginFlowPassword = "password"
	LoginFlowCode     = "code"
)

// Config holds all environment-based configuration for idp-relay.
type Config struct {
	// Identity provider selection and the public client used for logins.
	Provider     string `env:"IDP_PROVIDER" envDefault:"auth0"`
	Domain       string `env:"IDP_DOMAIN"`
	ClientID     string `env:"IDP_CLIENT_ID"`
	ClientSecret string `env:"IDP_CLIENT_SECRET"`
	Audience     string `env:"IDP_AUDIENCE"`

	// LoginFlow picks between the resource-owner password grant and the
	// authorization code grant.
	LoginFlow        string `env:"LOGIN_FLOW" envDefault:"password"`
	LoginRedirectURI string `env:"LOGIN_REDIRECT_URI"`

	// Auth0 specifics. Roles are read from "<namespace>roles" in the
	// id_token, so the namespace normally ends with a slash.
	Auth0RolesNamespace string `env:"AUTH0_ROLES_NAMESPACE"`
	Auth0Connection     string `env:"AUTH0_CONNECTION" envDefault:"Username-Password-Authentication"`

	// Machine-to-machine credential for the Auth0 Management API. Falls
	// back to the login client when unset.
	MgmtClientID     string `env:"MGMT_CLIENT_ID"`
	MgmtClientSecret string `env:"MGMT_CLIENT_SECRET"`
	MgmtAudience     string `env:"MGMT_AUDIENCE"`

	// Okta specifics. Management calls authenticate with the SSWS API
	// token, which is required when IDP_PROVIDER is okta.
	OktaAPIToken   string `env:"OKTA_API_TOKEN"`
	OktaAuthServer string `env:"OKTA_AUTH_SERVER" envDefault:"default"`

	// ServiceTokenMargin is subtracted from the service token lifetime.
	ServiceTokenMargin time.Duration `env:"SERVICE_TOKEN_MARGIN" envDefault:"300s"`

	// Management endpoint authorization.
	AdminRole          string `env:"ADMIN_ROLE" envDefault:"admin"`
	ManageRequireAdmin bool   `env:"MANAGE_REQUIRE_ADMIN" envDefault:"true"`

	// HTTP server.
	ListenAddr         string   `env:"LISTEN_ADDR" envDefault:":8080"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	MetricsEnabled     bool     `env:"METRICS_ENABLED" envDefault:"true"`

	// Login rate limit, per client IP.
	LoginRateLimit float64 `env:"LOGIN_RATE_LIMIT" envDefault:"1"`
	LoginRateBurst int     `env:"LOGIN_RATE_BURST" envDefault:"10"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.LoginFlow = strings.ToLower(strings.TrimSpace(cfg.LoginFlow))
	cfg.Domain = normalizeDomain(cfg.Domain)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// normalizeDomain strips a scheme and trailing slash so IDP_DOMAIN can be
// given as either "tenant.auth0.com" or "https://tenant.auth0.com/".
func normalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")

	return strings.TrimRight(domain, "/")
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAuth0, ProviderOkta:
	default:
		return fmt.Errorf("IDP_PROVIDER must be %q or %q, got %q", ProviderAuth0, ProviderOkta, c.Provider)
	}

	switch c.LoginFlow {
	case LoginFlowPassword, LoginFlowCode:
	default:
		return fmt.Errorf("LOGIN_FLOW must be %q or %q, got %q", LoginFlowPassword, LoginFlowCode, c.LoginFlow)
	}

	if c.Domain == "" {
		return fmt.Errorf("IDP_DOMAIN is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("IDP_CLIENT_ID is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("IDP_CLIENT_SECRET is required")
	}

	if c.Provider == ProviderOkta && c.OktaAPIToken == "" {
		return fmt.Errorf("OKTA_API_TOKEN is required when IDP_PROVIDER is %q", ProviderOkta)
	}

	if c.MgmtClientID != "" && c.MgmtClientSecret == "" {
		return fmt.Errorf("MGMT_CLIENT_SECRET is required when MGMT_CLIENT_ID is set")
	}

	if c.LoginRedirectURI != "" {
		if _, err := url.ParseRequestURI(c.LoginRedirectURI); err != nil {
			return fmt.Errorf("LOGIN_REDIRECT_URI is not a valid URL: %w", err)
		}
	}

	if c.ServiceTokenMargin < 0 {
		return fmt.Errorf("SERVICE_TOKEN_MARGIN must not be negative")
	}

	if strings.TrimSpace(c.AdminRole) == "" {
		return fmt.Errorf("ADMIN_ROLE must not be empty")
	}

	if c.LoginRateLimit < 0 || c.LoginRateBurst < 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT and LOGIN_RATE_BURST must not be negative")
	}

	if c.LoginRateLimit > 0 && c.LoginRateBurst < 1 {
		return fmt.Errorf("LOGIN_RATE_BURST must be at least 1 when LOGIN_RATE_LIMIT is set")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BaseURL returns the provider origin, e.g. https://tenant.auth0.com.
func (c *Config) BaseURL() string {
	return "https://" + c.Domain
}

// ManagementClientID returns the client used for the client-credentials
// grant, defaulting to the login client.
func (c *Config) ManagementClientID() string {
	if c.MgmtClientID != "" {
		return c.MgmtClientID
	}

	return c.ClientID
}

// ManagementClientSecret pairs with ManagementClientID.
func (c *Config) ManagementClientSecret() string {
	if c.MgmtClientID != "" {
		return c.MgmtClientSecret
	}

	return c.ClientSecret
}

// ManagementAudience returns the audience requested for service tokens.
// Auth0 defaults to its Management API v2 identifier; Okta ignores it.
func (c *Config) ManagementAudience() string {
	if c.MgmtAudience != "" {
		return c.MgmtAudience
	}

	if c.Provider == ProviderAuth0 {
		return c.BaseURL() + "/api/v2/"
	}

	return ""
}
