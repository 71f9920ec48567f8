// Package api holds the HTTP handlers exposed to the frontend: login,
// refresh, the management proxy and the public client configuration.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"github.com/alexjbarnes/idp-relay/internal/auth"
	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/idp"
)

// maxRequestBytes caps request bodies. Every endpoint takes a small JSON
// document.
const maxRequestBytes = 64 * 1024

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// clientError carries the exact message returned to the caller while
// still matching its sentinel with errors.Is.
type clientError struct {
	kind error
	msg  string
}

func (e *clientError) Error() string { return e.msg }

func (e *clientError) Unwrap() error { return e.kind }

func invalid(kind error, format string, args ...any) error {
	return &clientError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRaw relays a provider body unchanged.
func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	if raw == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// statusFor maps err to the HTTP status returned to the caller. An
// upstream status wins over the sentinels, except that a failed service
// token fetch is always a server error.
func statusFor(err error) int {
	if errors.Is(err, apperrors.ErrServiceToken) {
		return http.StatusInternalServerError
	}

	if pe, ok := apperrors.AsProviderError(err); ok {
		return pe.Status
	}

	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest),
		errors.Is(err, apperrors.ErrInvalidFormat),
		errors.Is(err, apperrors.ErrInvalidAction),
		errors.Is(err, apperrors.ErrUnsupportedRole),
		errors.Is(err, apperrors.ErrImmutableField):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorBody builds the response for err. Provider bodies are attached as
// details, as JSON when they parse and as text otherwise.
func errorBody(err error, status int) errorResponse {
	resp := errorResponse{Error: err.Error()}

	if pe, ok := apperrors.AsProviderError(err); ok {
		if errors.Is(err, apperrors.ErrServiceToken) {
			resp.Error = apperrors.ErrServiceToken.Error()
		} else {
			resp.Error = fmt.Sprintf("identity provider %s failed", pe.Op)
		}

		switch {
		case json.Valid(pe.Body):
			resp.Details = json.RawMessage(pe.Body)
		case len(pe.Body) > 0:
			resp.Details = string(pe.Body)
		}

		return resp
	}

	var ce *clientError
	if errors.As(err, &ce) {
		resp.Error = ce.msg
		return resp
	}

	if status >= http.StatusInternalServerError {
		resp.Error = "internal server error"
		resp.Details = err.Error()

		for _, sentinel := range []error{
			apperrors.ErrServiceToken,
			apperrors.ErrMissingIDToken,
			apperrors.ErrTokenDecode,
			apperrors.ErrConfig,
		} {
			if errors.Is(err, sentinel) {
				resp.Error = sentinel.Error()
				break
			}
		}
	}

	return resp
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	status := statusFor(err)

	level := slog.LevelDebug
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	}

	if pe, ok := apperrors.AsProviderError(err); ok {
		attrs = append(attrs, slog.String("upstream_body", idp.SanitizeResponseBody(pe.Body)))
	}

	logger.LogAttrs(r.Context(), level, "request failed", attrs...)

	writeJSON(w, status, errorBody(err, status))
}

// ErrorWriter adapts writeError for middleware in other packages.
func ErrorWriter(logger *slog.Logger) auth.ErrorWriter {
	return func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, logger, r, err)
	}
}

// methodNotAllowed answers 405 with the Allow header set.
func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
}

// AllowMethods rejects methods outside allowed before next runs.
func AllowMethods(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lo.Contains(allowed, r.Method) {
				methodNotAllowed(w, allowed...)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// decodeBody reads a JSON body into v. An empty body is allowed when
// optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))

	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		if optional {
			return nil
		}

		return invalid(apperrors.ErrInvalidRequest, "request body is required")
	}

	if err != nil {
		return invalid(apperrors.ErrInvalidRequest, "request body must be a JSON object")
	}

	return nil
}
