package api

import (
	"log/slog"
	"net/http"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

// HandleClientConfig returns the /api/config handler. It serves the
// public values a frontend needs to start a login and never the client
// secret.
func HandleClientConfig(cfg models.ClientConfig, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}

		if cfg.Domain == "" || cfg.ClientID == "" {
			writeError(w, logger, r, apperrors.ErrConfig)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		writeJSON(w, http.StatusOK, cfg)
	}
}

// HandleHealth returns the /healthz handler.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w, http.MethodGet, http.MethodHead)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
