// Package auth guards the management endpoint. Callers present the
// access token they received at login; it is resolved through the
// provider userinfo endpoint and checked for the admin role.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/cases"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

type contextKey int

const (
	ctxSubject contextKey = iota
	ctxRemoteIP
)

// RequestSubject returns the authenticated subject from the context, or "".
func RequestSubject(ctx context.Context) string {
	v, _ := ctx.Value(ctxSubject).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// ErrorWriter renders an error response. The api package supplies it so
// every endpoint shares one error shape.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)

	return token, token != ""
}

// HasRole reports whether roles contains want, using Unicode case folding.
func HasRole(roles []string, want string) bool {
	folder := cases.Fold()
	target := folder.String(want)

	for _, role := range roles {
		if folder.String(role) == target {
			return true
		}
	}

	return false
}

// Authorize resolves the bearer token on r and checks it carries
// adminRole. Userinfo failures are returned as-is so the provider status
// reaches the caller.
func Authorize(r *http.Request, provider idp.Provider, adminRole string) (*models.UserInfo, error) {
	token, ok := BearerToken(r)
	if !ok {
		return nil, fmt.Errorf("%w: bearer token missing", apperrors.ErrUnauthorized)
	}

	info, err := provider.UserInfo(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("resolving caller: %w", err)
	}

	if !HasRole(info.Roles, adminRole) {
		return info, fmt.Errorf("%w: %s role required", apperrors.ErrForbidden, adminRole)
	}

	return info, nil
}

func remoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

// RequireAdmin returns middleware that lets a request through only when
// Authorize succeeds. The subject and client IP are added to the request
// context for downstream logging.
func RequireAdmin(provider idp.Provider, adminRole string, logger *slog.Logger, fail ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := remoteIP(r)

			info, err := Authorize(r, provider, adminRole)
			if err != nil {
				logger.Debug("middleware: admin check failed",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				fail(w, r, err)

				return
			}

			logger.Debug("middleware: admin authenticated",
				slog.String("subject", info.Subject),
				slog.String("ip", ip),
			)

			ctx := r.Context()
			ctx = context.WithValue(ctx, ctxSubject, info.Subject)
			ctx = context.WithValue(ctx, ctxRemoteIP, ip)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
