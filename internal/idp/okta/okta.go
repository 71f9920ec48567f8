// Package okta implements idp.Provider against an Okta org: the OAuth
// endpoints of a custom authorization server and the Users and Groups
// management API.
package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/identity"
	"github.com/alexjbarnes/idp-relay/internal/idp"
	"github.com/alexjbarnes/idp-relay/internal/models"
	"github.com/alexjbarnes/idp-relay/internal/tokencache"
)

// Name is the provider identifier used in config, logs and metrics.
const Name = "okta"

// GroupsClaim carries group names in Okta tokens and userinfo.
const GroupsClaim = "groups"

// Authorization schemes for the management API.
const (
	SchemeSSWS   = "SSWS"
	SchemeBearer = "Bearer"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

// Config is the Okta org and client the provider talks to.
type Config struct {
	// BaseURL is the org origin, e.g. https://dev-123.okta.com.
	BaseURL      string
	ClientID     string
	ClientSecret string

	// AuthServer is the authorization server id in /oauth2/{id}/v1.
	AuthServer string

	// Scheme prefixes the management token: SSWS for API tokens,
	// Bearer for OAuth access tokens.
	Scheme string
}

// Provider talks to a single Okta org.
type Provider struct {
	cfg    Config
	client *idp.Client
	tokens tokencache.Source
	logger *slog.Logger
}

var _ idp.Provider = (*Provider)(nil)

// New creates an Okta provider. tokens supplies the management credential.
func New(cfg Config, client *idp.Client, tokens tokencache.Source, logger *slog.Logger) *Provider {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.AuthServer == "" {
		cfg.AuthServer = "default"
	}

	if cfg.Scheme == "" {
		cfg.Scheme = SchemeBearer
	}

	return &Provider{
		cfg:    cfg,
		client: client,
		tokens: tokens,
		logger: logger,
	}
}

// OAuthURL returns an endpoint of the given authorization server.
func OAuthURL(baseURL, authServer, endpoint string) string {
	return strings.TrimRight(baseURL, "/") + "/oauth2/" + authServer + "/v1/" + endpoint
}


func (p *Provider) Name() string { return Name }

func (p *Provider) RolesClaim() string { return GroupsClaim }

// ValidateUserID requires the 20 character alphanumeric id Okta assigns.
func (p *Provider) ValidateUserID(id string) error {
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("%w: userId must be a 20 character Okta id", apperrors.ErrInvalidFormat)
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
		"scope":         {idp.LoginScope},
	}

	return p.token(ctx, "refresh grant", form)
}

func (p *Provider) token(ctx context.Context, op string, form url.Values) (*models.TokenSet, error) {
	form.Set("client_id", p.cfg.ClientID)

	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	return p.client.Token(ctx, op, OAuthURL(p.cfg.BaseURL, p.cfg.AuthServer, "token"), form)
}

func (p *Provider) UserInfo(ctx context.Context, accessToken string) (*models.UserInfo, error) {
	raw, err := p.client.Do(ctx, idp.Request{
		Op:            "userinfo",
		Method:        http.MethodGet,
		URL:           OAuthURL(p.cfg.BaseURL, p.cfg.AuthServer, "userinfo"),
		Authorization: "Bearer " + accessToken,
	})
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, fmt.Errorf("decoding userinfo response: %w", err)
	}

	info := &models.UserInfo{Roles: identity.Roles(claims, GroupsClaim, p.logger)}
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

type userProfile struct {
	Email     string `json:"email"`
	Login     string `json:"login"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	NickName  string `json:"nickName,omitempty"`
}

type passwordCredential struct {
	Value string `json:"value"`
}

type createUserRequest struct {
	Profile     userProfile `json:"profile"`
	Credentials struct {
		Password passwordCredential `json:"password"`
	} `json:"credentials"`
}

// CreateUser creates and activates a user whose login is the email.
func (p *Provider) CreateUser(ctx context.Context, user models.NewUser) (json.RawMessage, error) {
	var body createUserRequest

	body.Profile = userProfile{
		Email:     user.Email,
		Login:     user.Email,
		FirstName: user.GivenName,
		LastName:  user.FamilyName,
		NickName:  user.Nickname,
	}
	body.Credentials.Password.Value = user.Password

	return p.manage(ctx, "create user", http.MethodPost, "users?activate=true", body)
}

// UpdateUser performs a partial profile update. Okta treats POST on the
// user resource as a merge, unlike PUT which replaces the profile.
func (p *Provider) UpdateUser(ctx context.Context, id string, updates map[string]any) (json.RawMessage, error) {
	body := map[string]any{"profile": updates}
	return p.manage(ctx, "update user", http.MethodPost, "users/"+url.PathEscape(id), body)
}

// DeleteUser deactivates then deletes. Okta only deletes deactivated
// users; a failed deactivate is logged and the delete is attempted anyway
// so an already deactivated user can still be removed.
func (p *Provider) DeleteUser(ctx context.Context, id string) error {
	path := "users/" + url.PathEscape(id)

	if _, err := p.manage(ctx, "deactivate user", http.MethodPost, path+"/lifecycle/deactivate", nil); err != nil {
		p.logger.Warn("deactivate before delete failed, continuing",
			slog.String("user_id", id),
			slog.String("error", err.Error()),
		)
	}

	_, err := p.manage(ctx, "delete user", http.MethodDelete, path, nil)

	return err
}

func (p *Provider) ResolveRoleID(ctx context.Context, name string) (string, error) {
	raw, err := p.manage(ctx, "find group", http.MethodGet, "groups?q="+url.QueryEscape(name), nil)
	if err != nil {
		return "", err
	}

	id, ok := idp.FindIDByName(raw, "profile.name", "id", name)
	if !ok {
		return "", fmt.Errorf("%w: %s", apperrors.ErrRoleNotFound, name)
	}

	return id, nil
}

func (p *Provider) ListUsersInRole(ctx context.Context, groupID string) (json.RawMessage, error) {
	return p.manage(ctx, "list group users", http.MethodGet, "groups/"+url.PathEscape(groupID)+"/users", nil)
}

func (p *Provider) AssignRole(ctx context.Context, userID, groupID string) error {
	_, err := p.manage(ctx, "assign group", http.MethodPut, membershipPath(groupID, userID), nil)
	return err
}

func (p *Provider) UnassignRole(ctx context.Context, userID, groupID string) error {
	_, err := p.manage(ctx, "unassign group", http.MethodDelete, membershipPath(groupID, userID), nil)
	return err
}

func membershipPath(groupID, userID string) string {
	return "groups/" + url.PathEscape(groupID) + "/users/" + url.PathEscape(userID)
}

// manage calls the management API. A 401 drops a cached access token;
// for an SSWS token Invalidate is a no-op.
func (p *Provider) manage(ctx context.Context, op, method, path string, body any) (json.RawMessage, error) {
	tok, err := p.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := p.client.Do(ctx, idp.Request{
		Op:            op,
		Method:        method,
		URL:           p.cfg.BaseURL + "/api/v1/" + path,
		Body:          body,
		Authorization: p.cfg.Scheme + " " + tok,
	})
	if idp.IsStatus(err, http.StatusUnauthorized) {
		p.logger.Warn("management API rejected credential, invalidating", slog.String("op", op))
		p.tokens.Invalidate()
	}

	return raw, err
}
