// Package auth0 implements idp.Provider against the Auth0 Authentication
// API and Management API v2.
package auth0

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/identity"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/models"
	"github.com/alexjbarnes/idp-relay/internal/tokencache"
)

// Name is the provider identifier used in config, logs and metrics.
const Name = "auth0"

// Config is the Auth0 tenant and client the provider talks to.
type Config struct {
	// BaseURL is the tenant origin, e.g. https://tenant.eu.auth0.com.
	BaseURL      string
	ClientID     string
	ClientSecret string
	Audience     string

	// RolesNamespace prefixes the custom "roles" claim.
	RolesNamespace string

	// Connection is the database connection new users are created in.
	Connection string
}

// Provider talks to a single Auth0 tenant.
type Provider struct {
	cfg    Config
	client *idp.Client
	tokens tokencache.Source
	logger *slog.Logger
}

var _ idp.Provider = (*Provider)(nil)

// New creates an Auth0 provider. tokens supplies the Management API
// bearer token.
func New(cfg Config, client *idp.Client, tokens tokencache.Source, logger *slog.Logger) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Provider{
		cfg:    cfg,
		client: client,
		tokens: tokens,
		logger: logger,
	}
}

// TokenURL is the tenant token endpoint, shared with the service token
// fetcher.
func TokenURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/oauth/token"
}

// ManagementAudience is the audience a Management API token is issued for.
func ManagementAudience(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v2/"
}

func (p *Provider) Name() string { return Name }

func (p *Provider) RolesClaim() string { return p.cfg.RolesNamespace + "roles" }

// ValidateUserID requires the "<connection>|<id>" shape Auth0 uses.
func (p *Provider) ValidateUserID(id string) error {
	conn, rest, ok := strings.Cut(id, "|")
	if !ok || conn == "" || rest == "" || strings.ContainsAny(id, "/ ") {
		return fmt.Errorf("%w: userId must look like provider|id", apperrors.ErrInvalidFormat)
	}

	return nil
}

func (p *Provider) ExchangePassword(ctx context.Context, username, password string) (*models.TokenSet, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
		"scope":      {idp.LoginScope},
	}

	return p.token(ctx, "password grant", form)
}

func (p *Provider) ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenSet, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	return p.token(ctx, "code exchange", form)
}

func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	return p.token(ctx, "refresh grant", form)
}

func (p *Provider) token(ctx context.Context, op string, form url.Values) (*models.TokenSet, error) {
	form.Set("client_id", p.cfg.ClientID)

	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	if p.cfg.Audience != "" && form.Get("grant_type") == "password" {
		form.Set("audience", p.cfg.Audience)
	}

	return p.client.Token(ctx, op, TokenURL(p.cfg.BaseURL), form)
}

func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*models.UserInfo, error) {
	raw, err := p.client.Do(ctx, idp.Request{
		Op:            "userinfo",
		Method:        http.MethodGet,
		URL:           p.cfg.BaseURL + "/userinfo",
		Authorization: "Bearer " + accessToken,
	})
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo response: %w", err)
	}

	info := &models.UserInfo{Roles: identity.Roles(claims, p.RolesClaim(), p.logger)}
	info.Subject, _ = claims["sub"].(string)
	info.Email, _ = claims["email"].(string)

	return info, nil
}

func (p *Provider) ListUsers(ctx context.Context) (json.RawMessage, error) {
	return p.manage(ctx, "list users", http.MethodGet, "users", nil)
}

func (p *Provider) GetUser(ctx context.Context, id string) (json.RawMessage, error) {
	return p.manage(ctx, "get user", http.MethodGet, "users/"+url.PathEscape(id), nil)
}

// createUserRequest is the Management API user payload.
type createUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Connection string `json:"connection"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Name       string `json:"name,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

func (p *Provider) CreateUser(ctx context.Context, user models.NewUser) (json.RawMessage, error) {
	body := createUserRequest{
		Email:      user.Email,
		Password:   user.Password,
		Connection: p.cfg.Connection,
		GivenName:  user.GivenName,
		FamilyName: user.FamilyName,
		Name:       user.Name,
		Nickname:   user.Nickname,
		Picture:    user.Picture,
	}

	return p.manage(ctx, "create user", http.MethodPost, "users", body)
}

func (p *Provider) UpdateUser(ctx context.Context, id string, updates map[string]any) (json.RawMessage, error) {
	return p.manage(ctx, "update user", http.MethodPatch, "users/"+url.PathEscape(id), updates)
}

func (p *Provider) DeleteUser(ctx context.Context, id string) error {
	_, err := p.manage(ctx, "delete user", http.MethodDelete, "users/"+url.PathEscape(id), nil)
	return err
}

func (p *Provider) ResolveRoleID(ctx context.Context, name string) (string, error) {
	raw, err := p.manage(ctx, "find role", http.MethodGet, "roles?name_filter="+url.QueryEscape(name), nil)
	if err != nil {
		return "", err
	}

	id, ok := idp.FindIDByName(raw, "name", "id", name)
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrRoleNotFound, name)
	}

	return id, nil
}

func (p *Provider) ListUsersInRole(ctx context.Context, roleID string) (json.RawMessage, error) {
	return p.manage(ctx, "list role users", http.MethodGet, "roles/"+url.PathEscape(roleID)+"/users", nil)
}

type rolesRequest struct {
	Roles []string `json:"roles"`
}

func (p *Provider) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := p.manage(ctx, "assign role", http.MethodPost,
		"users/"+url.PathEscape(userID)+"/roles", rolesRequest{Roles: []string{roleID}})

	return err
}

func (p *Provider) UnassignRole(ctx context.Context, userID, roleID string) error {
	_, err := p.manage(ctx, "unassign role", http.MethodDelete,
		"users/"+url.PathEscape(userID)+"/roles", rolesRequest{Roles: []string{roleID}})

	return err
}

// manage calls the Management API with the cached service token. A 401
// drops the cached token so the next call fetches a new one.
func (p *Provider) manage(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	tok, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.Do(ctx, idp.Request{
		Op:            op,
		Method:        method,
		URL:           ManagementAudience(p.cfg.BaseURL) + path,
		Body:          body,
		Authorization: "Bearer " + tok,
	})
	if idp.IsStatus(err, http.StatusUnauthorized) {
		p.logger.Warn("management API rejected service token, invalidating", slog.String("op", op))
		p.tokens.Invalidate()
	}

	return raw, err
}
