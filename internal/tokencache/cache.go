// Package tokencache holds the service-to-service credential used for
// identity provider management calls. A Cache owns exactly one token and
// its expiry; it is created once at startup and handed to the provider
// that needs it.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/metrics"
)

// DefaultMargin is subtracted from a token's lifetime so it is replaced
// before the provider starts rejecting it.
const DefaultMargin = 300 * time.Second

// Source hands out a credential for management API calls.
type Source interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Fetcher performs the network exchange for a fresh service token.
type Fetcher interface {
	Fetch(ctx context.Context) (*oauth2.Token, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) (*oauth2.Token, error)

// Fetch calls f(ctx).
func (f FetcherFunc) Fetch(ctx context.Context) (*oauth2.Token, error) { return f(ctx) }

// Cache reuses a fetched token until margin before it expires. Concurrent
// misses each fetch; the mutex only guards the token/expiry pair and is
// never held across the network call.
type Cache struct {
	fetcher Fetcher
	margin  time.Duration
	logger  *slog.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates an empty Cache. A negative margin is treated as zero.
func New(fetcher Fetcher, margin time.Duration, logger *slog.Logger) *Cache {
	if margin < 0 {
		margin = 0
	}

	return &Cache{
		fetcher: fetcher,
		margin:  margin,
		logger:  logger,
	}
}

// Token returns the cached token while it is still inside its safety
// window, otherwise fetches a new one. A failed fetch clears the cache so
// the next call starts over.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		metrics.ServiceTokenLookups.WithLabelValues("hit").Inc()
		return tok, nil
	}

	c.logger.Debug("fetching service token")

	tok, err := c.fetcher.Fetch(ctx)
	if err != nil {
		c.Invalidate()
		metrics.ServiceTokenLookups.WithLabelValues("error").Inc()
		c.logger.Warn("service token fetch failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("%w: %w", apperrors.ErrServiceToken, mapRetrieveError(err))
	}

	if tok == nil || tok.AccessToken == "" {
		c.Invalidate()
		metrics.ServiceTokenLookups.WithLabelValues("error").Inc()

		return "", fmt.Errorf("%w: token response has no access_token", apperrors.ErrServiceToken)
	}

	metrics.ServiceTokenLookups.WithLabelValues("fetch").Inc()

	// Without an expiry there is nothing to reuse against.
	if tok.Expiry.IsZero() {
		c.logger.Warn("service token has no expiry, not caching")
		c.Invalidate()

		return tok.AccessToken, nil
	}

	expiresAt := tok.Expiry.Add(-c.margin)
	if !time.Now().Before(expiresAt) {
		c.logger.Warn("service token lifetime shorter than refresh margin, not caching",
			slog.Duration("margin", c.margin),
		)
		c.Invalidate()

		return tok.AccessToken, nil
	}

	c.mu.Lock()
	c.token = tok.AccessToken
	c.expiresAt = expiresAt
	c.mu.Unlock()

	c.logger.Debug("service token cached", slog.Time("reuse_until", expiresAt))

	return tok.AccessToken, nil
}

// Invalidate drops the cached token.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" || !time.Now().Before(c.expiresAt) {
		return "", false
	}

	return c.token, true
}

// mapRetrieveError converts an oauth2 token endpoint failure into a
// ProviderError so the upstream status survives. Other errors pass
// through untouched.
func mapRetrieveError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &apperrors.ProviderError{
			Op:     "service token",
			Status: re.Response.StatusCode,
			Body:   re.Body,
		}
	}

	return err
}

// Static is a Source for long-lived API tokens such as Okta SSWS keys.
// It never expires and never touches the network.
type Static string

// Token returns the static token.
func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: static token is empty", apperrors.ErrServiceToken)
	}

	return string(s), nil
}

// Invalidate is a no-op; a static token cannot be refreshed.
func (Static) Invalidate() {}
