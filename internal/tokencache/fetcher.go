package tokencache

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ClientCredentialsConfig describes a client-credentials grant.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Audience     string
	Scopes       []string
}

type clientCredentialsFetcher struct {
	cfg        clientcredentials.Config
	httpClient *http.Client
}

// NewClientCredentialsFetcher returns a Fetcher that requests a token
// with the client-credentials grant. Credentials are sent in the request
// body, which both Auth0 and Okta accept. httpClient may be nil.
func NewClientCredentialsFetcher(cfg ClientCredentialsConfig, httpClient *http.Client) Fetcher {
	params := url.Values{}
	if cfg.Audience != "" {
		params.Set("audience", cfg.Audience)
	}

	return &clientCredentialsFetcher{
		cfg: clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			Scopes:         cfg.Scopes,
			EndpointParams: params,
			AuthStyle:      oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

func (f *clientCredentialsFetcher) Fetch(ctx context.Context) (*oauth2.Token, error) {
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	return f.cfg.Token(ctx)
}
