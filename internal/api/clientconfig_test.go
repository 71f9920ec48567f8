package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alexjbarnes/idp-relay/internal/models"
)

func TestHandleClientConfig(t *testing.T) {
	h := HandleClientConfig(models.ClientConfig{
		Provider:  "auth0",
		Domain:    "tenant.auth0.com",
		ClientID:  "cid",
		Audience:  "https://api.example.com",
		LoginFlow: "password",
	}, testLogger())

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"provider":"auth0",
		"domain":"tenant.auth0.com",
		"clientId":"cid",
		"audience":"https://api.example.com",
		"loginFlow":"password"
	}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestHandleClientConfig_MissingValues(t *testing.T) {
	h := HandleClientConfig(models.ClientConfig{Provider: "okta", Domain: "dev.okta.com"}, testLogger())

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleClientConfig_MethodNotAllowed(t *testing.T) {
	h := HandleClientConfig(models.ClientConfig{Domain: "d", ClientID: "c"}, testLogger())

	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/api/config", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET", w.Header().Get("Allow"))
}

func TestHandleHealth(t *testing.T) {
	w := httptest.NewRecorder()
	HandleHealth()(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
