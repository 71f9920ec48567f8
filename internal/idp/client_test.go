package idp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientDo_SendsJSONAndAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer svc", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a@example.com", body["email"])

		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"user_id":"auth0|1"}`)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), testLogger())
	raw, err := c.Do(context.Background(), Request{
		Op:            "create user",
		Method:        http.MethodPost,
		URL:           srv.URL + "/users",
		Body:          map[string]string{"email": "a@example.com"},
		Authorization: "Bearer svc",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"auth0|1"}`, string(raw))
}

func TestClientDo_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), testLogger())
	raw, err := c.Do(context.Background(), Request{Op: "delete user", Method: http.MethodDelete, URL: srv.URL})
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClientDo_ProviderErrorKeepsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"message":"slow down"}`)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), testLogger())
	_, err := c.Do(context.Background(), Request{Op: "list users", Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	pe, ok := apperrors.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, pe.Status)
	assert.Equal(t, "list users", pe.Op)
	assert.JSONEq(t, `{"message":"slow down"}`, string(pe.Body))
	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
	assert.False(t, IsStatus(err, http.StatusNotFound))
}

func TestClientDo_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewClient("test", nil, testLogger())
	_, err := c.Do(context.Background(), Request{Op: "list users", Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)

	_, ok := apperrors.AsProviderError(err)
	assert.False(t, ok)
}

func TestClientToken_DecodesTokenSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "password", r.PostForm.Get("grant_type"))
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"at","id_token":"it","refresh_token":"rt","expires_in":3600,"token_type":"Bearer"}`)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), testLogger())
	ts, err := c.Token(context.Background(), "password grant", srv.URL, url.Values{"grant_type": {"password"}})
	require.NoError(t, err)
	assert.Equal(t, "at", ts.AccessToken)
	assert.Equal(t, "it", ts.IDToken)
	assert.Equal(t, "rt", ts.RefreshToken)
	assert.Equal(t, 3600, ts.ExpiresIn)
}

func TestClientToken_Forbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Wrong email or password."}`)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), testLogger())
	_, err := c.Token(context.Background(), "password grant", srv.URL, url.Values{})
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))
}

func TestSameHostRedirectPolicy(t *testing.T) {
	orig, _ := http.NewRequest(http.MethodGet, "https://tenant.auth0.com/a", nil)
	same, _ := http.NewRequest(http.MethodGet, "https://tenant.auth0.com/b", nil)
	other, _ := http.NewRequest(http.MethodGet, "https://evil.example.com/b", nil)

	assert.NoError(t, sameHostRedirectPolicy(same, []*http.Request{orig}))
	assert.Error(t, sameHostRedirectPolicy(other, []*http.Request{orig}))
}

func TestSanitizeResponseBody(t *testing.T) {
	assert.Equal(t, "line?injected", SanitizeResponseBody([]byte("line\ninjected")))
	assert.Len(t, SanitizeResponseBody(make([]byte, 1000)), 256)
	assert.Equal(t, "?", SanitizeResponseBody([]byte{0xff}))
}
