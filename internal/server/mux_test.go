package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexjbarnes/idp-relay/internal/api"
	"github.com/alexjbarnes/idp-relay/internal/auth"
	"github.com/alexjbarnes/idp-relay/internal/config"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/idp/auth0"
	"github.com/alexjbarnes/idp-relay/internal/models"
	"github.com/alexjbarnes/idp-relay/internal/tokencache"
)

const rolesNamespace = "https://example.com/"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAuth0 is a minimal Auth0 tenant: token endpoint, userinfo and the
// Management API routes the relay uses.
type fakeAuth0 struct {
	t              *testing.T
	serviceFetches atomic.Int32
}

func (f *fakeAuth0) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t := f.t

	switch {
	case r.URL.Path == "/oauth/token":
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		f.serviceFetches.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"svc-token","token_type":"Bearer","expires_in":86400}`)

	case r.URL.Path == "/userinfo":
		if r.Header.Get("Authorization") != "Bearer admin-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":"invalid_token"}`)

			return
		}

		_, _ = io.WriteString(w, `{"sub":"auth0|admin","https://example.com/roles":["admin"]}`)

	case strings.HasPrefix(r.URL.Path, "/api/v2/"):
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		f.management(w, r, strings.TrimPrefix(r.URL.Path, "/api/v2/"))

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeAuth0) management(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case r.Method == http.MethodPost && path == "users":
		body, _ := io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(body)

	case r.Method == http.MethodGet && path == "roles":
		_, _ = io.WriteString(w, `[{"id":"rol_admin","name":"admin"}]`)

	case r.Method == http.MethodGet && path == "roles/rol_admin/users":
		_, _ = io.WriteString(w, `[{"user_id":"auth0|1","email":"a@example.com"},{"user_id":"auth0|2","email":"b@example.com"}]`)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	server *httptest.Server
	fake   *fakeAuth0
}

func newTestEnv(t *testing.T, mutate func(*MuxConfig)) *testEnv {
	t.Helper()

	fake := &fakeAuth0{t: t}
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)

	logger := testLogger()
	client := idp.NewClient(auth0.Name, upstream.Client(), logger)
	fetcher := tokencache.NewClientCredentialsFetcher(tokencache.ClientCredentialsConfig{
		TokenURL:     auth0.TokenURL(upstream.URL),
		ClientID:     "mgmt",
		ClientSecret: "mgmt-secret",
		Audience:     auth0.ManagementAudience(upstream.URL),
	}, upstream.Client())

	provider := auth0.New(auth0.Config{
		BaseURL:        upstream.URL,
		ClientID:       "cid",
		ClientSecret:   "csecret",
		RolesNamespace: rolesNamespace,
		Connection:     "Username-Password-Authentication",
	}, client, tokencache.New(fetcher, tokencache.DefaultMargin, logger), logger)

	cfg := MuxConfig{
		Provider: provider,
		Login:    api.LoginConfig{Flow: config.LoginFlowPassword},
		Manage:   api.ManageConfig{AdminRole: "admin"},
		ClientConfig: models.ClientConfig{
			Provider: config.ProviderAuth0,
			Domain:   "tenant.auth0.com",
			ClientID: "cid",
		},
		RequireAdmin: true,
		Logger:       logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := httptest.NewServer(NewMux(cfg))
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, fake: fake}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	require.NoError(t, err)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(b)
}

func TestEndToEnd_CreateUserEchoesProviderBody(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/manage?action=createUser", "admin-token",
		`{"userData":{"email":"a@example.com","password":"hunter22","given_name":"Ada"}}`)

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &created))
	assert.Equal(t, "a@example.com", created["email"])
	assert.Equal(t, "Username-Password-Authentication", created["connection"])
	assert.Equal(t, "Ada", created["given_name"])
}

func TestEndToEnd_ListUsersInRoleVerbatim(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/manage?action=listUsersInRole&roleName=admin", "admin-token", "")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		`[{"user_id":"auth0|1","email":"a@example.com"},{"user_id":"auth0|2","email":"b@example.com"}]`,
		readBody(t, resp))
}

func TestEndToEnd_ServiceTokenReused(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodGet, "/api/manage?action=listUsersInRole&roleName=admin", "admin-token", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	assert.Equal(t, int32(1), env.fake.serviceFetches.Load())
}

func TestEndToEnd_ManageRequiresBearer(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/manage?action=listUsers", "", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/manage?action=listUsers", "expired", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "invalid_token")
	assert.Equal(t, int32(0), env.fake.serviceFetches.Load())
}

func TestEndToEnd_AdminCheckDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *MuxConfig) { c.RequireAdmin = false })

	resp := env.do(t, http.MethodGet, "/api/manage?action=listUsersInRole&roleName=admin", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestEndToEnd_ManageMethodNotAllowedBeforeAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPatch, "/api/manage?action=updateUser", "", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST, PUT, DELETE", resp.Header.Get("Allow"))
}

func TestEndToEnd_ClientConfigAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/config", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"clientId":"cid"`)

	resp = env.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, func(c *MuxConfig) { c.MetricsEnabled = true })

	resp := env.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	disabled := newTestEnv(t, nil)

	resp = disabled.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(c *MuxConfig) { c.CORSAllowedOrigins = []string{"https://app.example.com"} })

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/manage", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")

	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimited(t *testing.T) {
	limiter := auth.NewRateLimiter(0.001, 1)
	t.Cleanup(limiter.Stop)

	env := newTestEnv(t, func(c *MuxConfig) { c.LoginLimiter = limiter })

	// First request passes the limiter and fails validation.
	resp := env.do(t, http.MethodPost, "/api/login", "", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/login", "", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestServerTimeoutsConfigured(t *testing.T) {
	srv := NewHTTPServer(":0", http.NotFoundHandler())

	assert.Equal(t, 10*time.Second, srv.ReadHeaderTimeout)
	assert.NotZero(t, srv.ReadTimeout)
	assert.NotZero(t, srv.WriteTimeout)
	assert.NotZero(t, srv.IdleTimeout)
}
