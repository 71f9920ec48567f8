package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/metrics"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Provider answers are
	// small JSON documents; user lists are paginated upstream.
	maxAPIResponseBytes = 1024 * 1024
)

// Client sends requests to one identity provider and turns non-2xx
// answers into *errors.ProviderError.
type Client struct {
	httpClient *http.Client
	provider   string
	logger     *slog.Logger
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so credentials never leak to a
// third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns the outbound client used when none is supplied.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout:       httpClientTimeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates a Client. If httpClient is nil, NewHTTPClient is used.
func NewClient(provider string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}

	return &Client{
		httpClient: httpClient,
		provider:   provider,
		logger:     logger,
	}
}

// HTTPClient exposes the underlying client so token fetchers share it.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Request describes one JSON call to the provider.
type Request struct {
	Op            string
	Method        string
	URL           string
	Body          any
	Authorization string
}

// Do sends req and returns the raw response body. A 204 or empty body
// returns nil.
func (c *Client) Do(ctx context.Context, req Request) (json.RawMessage, error) {
	var body io.Reader = http.NoBody

	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshalling %s request: %w", req.Op, err)
		}

		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", req.Op, err)
	}

	httpReq.Header.Set("Accept", "application/json")

	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}

	respBody, err := c.send(httpReq, req.Op)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		return nil, nil
	}

	return json.RawMessage(respBody), nil
}

// Token posts a form to a token endpoint and decodes the token response.
func (c *Client) Token(ctx context.Context, op, tokenURL string, form url.Values) (*models.TokenSet, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}

	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	respBody, err := c.send(httpReq, op)
	if err != nil {
		return nil, err
	}

	var ts models.TokenSet
	if err := json.Unmarshal(respBody, &ts); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", op, err)
	}

	return &ts, nil
}

// send executes httpReq and returns the capped body of a 2xx response.
func (c *Client) send(httpReq *http.Request, op string) ([]byte, error) {
	start := time.Now()

	resp, err := c.httpClient.Do(httpReq)

	metrics.ProviderDuration.WithLabelValues(c.provider, op).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ProviderRequests.WithLabelValues(c.provider, op, metrics.StatusClass(0)).Inc()
		return nil, fmt.Errorf("sending %s request: %w", op, err)
	}
	defer resp.Body.Close()

	metrics.ProviderRequests.WithLabelValues(c.provider, op, metrics.StatusClass(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("provider request failed",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", SanitizeResponseBody(respBody)),
		)

		return nil, &apperrors.ProviderError{
			Op:     op,
			Status: resp.StatusCode,
			Body:   respBody,
		}
	}

	return respBody, nil
}

// SanitizeResponseBody truncates and sanitizes a response body for
// inclusion in log lines. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func SanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// IsStatus reports whether err carries a ProviderError with the given
// upstream status.
func IsStatus(err error, status int) bool {
	pe, ok := apperrors.AsProviderError(err)
	return ok && pe.Status == status
}
