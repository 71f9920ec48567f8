package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alexjbarnes/idp-relay/internal/config"
	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/identity"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/metrics"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

// LoginConfig selects the grant accepted by /api/login.
type LoginConfig struct {
	Flow        string
	RedirectURI string
}

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Code        string `json:"code"`
	RedirectURI string `json:"redirect_uri"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleLogin returns the /api/login handler. It exchanges the caller's
// credentials or authorization code for tokens and answers with the
// session payload.
func HandleLogin(provider idp.Provider, cfg LoginConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		var req loginRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, logger, r, err)
			return
		}

		var (
			ts  *models.TokenSet
			err error
		)

		switch cfg.Flow {
		case config.LoginFlowCode:
			ts, err = exchangeCode(r.Context(), provider, req, cfg.RedirectURI)
		default:
			ts, err = exchangePassword(r.Context(), provider, req)
		}

		if err != nil {
			metrics.Logins.WithLabelValues(cfg.Flow, "failure").Inc()
			writeError(w, logger, r, err)

			return
		}

		if ts.IDToken == "" {
			metrics.Logins.WithLabelValues(cfg.Flow, "failure").Inc()
			writeError(w, logger, r, apperrors.ErrMissingIDToken)

			return
		}

		session, err := buildSession(ts, provider, logger)
		if err != nil {
			metrics.Logins.WithLabelValues(cfg.Flow, "failure").Inc()
			writeError(w, logger, r, err)

			return
		}

		metrics.Logins.WithLabelValues(cfg.Flow, "success").Inc()
		logger.Info("login succeeded",
			slog.String("grant", cfg.Flow),
			slog.String("subject", session.Profile.ID),
		)

		writeJSON(w, http.StatusOK, session)
	}
}

func exchangePassword(ctx context.Context, provider idp.Provider, req loginRequest) (*models.TokenSet, error) {
	if req.Username == "" || req.Password == "" {
		return nil, invalid(apperrors.ErrInvalidRequest, "username and password are required")
	}

	if !emailPattern.MatchString(req.Username) {
		return nil, invalid(apperrors.ErrInvalidFormat, "username must be an email address")
	}

	return provider.ExchangePassword(ctx, req.Username, req.Password)
}

func exchangeCode(ctx context.Context, provider idp.Provider, req loginRequest, defaultRedirect string) (*models.TokenSet, error) {
	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = defaultRedirect
	}

	if req.Code == "" || redirectURI == "" {
		return nil, invalid(apperrors.ErrInvalidRequest, "code and redirect_uri are required")
	}

	return provider.ExchangeCode(ctx, req.Code, redirectURI)
}

// HandleRefresh returns the /api/refresh handler. The provider may omit
// the id_token and refresh token on refresh; the session then carries an
// empty profile and the refresh token the caller sent.
func HandleRefresh(provider idp.Provider, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		var req refreshRequest
		if err := decodeBody(r, &req, false); err != nil {
			writeError(w, logger, r, err)
			return
		}

		if req.RefreshToken == "" {
			writeError(w, logger, r, invalid(apperrors.ErrInvalidRequest, "refresh_token is required"))
			return
		}

		ts, err := provider.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			metrics.Logins.WithLabelValues("refresh_token", "failure").Inc()
			writeError(w, logger, r, err)

			return
		}

		if ts.RefreshToken == "" {
			ts.RefreshToken = req.RefreshToken
		}

		session, err := buildSession(ts, provider, logger)
		if err != nil {
			metrics.Logins.WithLabelValues("refresh_token", "failure").Inc()
			writeError(w, logger, r, err)

			return
		}

		metrics.Logins.WithLabelValues("refresh_token", "success").Inc()
		writeJSON(w, http.StatusOK, session)
	}
}

// buildSession decodes the id_token, when present, into the profile and
// roles. The token came straight from the provider's token endpoint, so
// its signature is not checked.
func buildSession(ts *models.TokenSet, provider idp.Provider, logger *slog.Logger) (*models.Session, error) {
	session := &models.Session{
		AccessToken:  ts.AccessToken,
		IDToken:      ts.IDToken,
		RefreshToken: ts.RefreshToken,
		ExpiresIn:    ts.ExpiresIn,
		Roles:        []string{},
	}

	if ts.IDToken == "" {
		return session, nil
	}

	claims, err := identity.Decode(ts.IDToken)
	if err != nil {
		return nil, err
	}

	session.Profile = identity.BuildProfile(claims)
	session.Roles = identity.Roles(claims, provider.RolesClaim(), logger)

	return session, nil
}
