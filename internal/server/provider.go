package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/idp-relay/internal/config"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/idp/auth0"
	"github.com/alexjbarnes/idp-relay/internal/idp/okta"
	"github.com/alexjbarnes/idp-relay/internal/tokencache"
)

// NewProvider builds the identity provider selected by cfg.Provider,
// together with the source of its management credential: a cached
// client-credentials token for Auth0, the SSWS API token for Okta.
// httpClient may be nil.
func NewProvider(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (idp.Provider, error) {
	baseURL := cfg.BaseURL()
	client := idp.NewClient(cfg.Provider, httpClient, logger.With("component", "idp"))
	cacheLogger := logger.With("component", "tokencache")

	switch cfg.Provider {
	case config.ProviderAuth0:
		fetcher := tokencache.NewClientCredentialsFetcher(tokencache.ClientCredentialsConfig{
			TokenURL:     auth0.TokenURL(baseURL),
			ClientID:     cfg.ManagementClientID(),
			ClientSecret: cfg.ManagementClientSecret(),
			Audience:     cfg.ManagementAudience(),
		}, client.HTTPClient())

		return auth0.New(auth0.Config{
			BaseURL:        baseURL,
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			Audience:       cfg.Audience,
			RolesNamespace: cfg.Auth0RolesNamespace,
			Connection:     cfg.Auth0Connection,
		}, client, tokencache.New(fetcher, cfg.ServiceTokenMargin, cacheLogger), logger.With("component", "auth0")), nil

	case config.ProviderOkta:
		return okta.New(okta.Config{
			BaseURL:      baseURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			AuthServer:   cfg.OktaAuthServer,
			Scheme:       okta.SchemeSSWS,
		}, client, tokencache.Static(cfg.OktaAPIToken), logger.With("component", "okta")), nil

	default:
		return nil, fmt.Errorf("unsupported identity provider %q", cfg.Provider)
	}
}
