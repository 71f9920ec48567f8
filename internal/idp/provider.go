// Package idp defines the capability set idp-relay needs from an identity
// provider and the HTTP plumbing shared by the concrete providers.
package idp

import (
	"context"
	"encoding/json"

	"github.com/alexjbarnes/idp-relay/internal/models"
)

//go:generate mockgen -source=provider.go -destination=mock_provider.go -package=idp

// Provider is implemented once per identity provider and selected at
// startup. Management methods return provider JSON verbatim so the
// handlers can relay it unchanged.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// RolesClaim is the id_token / userinfo claim that carries role or
	// group names.
	RolesClaim() string

	// ValidateUserID rejects ids that cannot belong to this provider
	// before any network call is made.
	ValidateUserID(id string) error

	ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenSet, error)
	ExchangePassword(ctx context.Context, username, password string) (*models.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*models.TokenSet, error)

	// UserInfo resolves an end-user access token to its subject and roles.
	UserInfo(ctx context.Context, accessToken string) (*models.UserInfo, error)

	ListUsers(ctx context.Context) (json.RawMessage, error)
	GetUser(ctx context.Context, id string) (json.RawMessage, error)
	CreateUser(ctx context.Context, user models.NewUser) (json.RawMessage, error)
	UpdateUser(ctx context.Context, id string, updates map[string]any) (json.RawMessage, error)
	DeleteUser(ctx context.Context, id string) error

	// ResolveRoleID maps a role (Auth0) or group (Okta) name to its id.
	// It returns errors.ErrRoleNotFound when nothing matches.
	ResolveRoleID(ctx context.Context, name string) (string, error)
	ListUsersInRole(ctx context.Context, roleID string) (json.RawMessage, error)
	AssignRole(ctx context.Context, userID, roleID string) error
	UnassignRole(ctx context.Context, userID, roleID string) error
}

// LoginScope is requested on every user grant.
const LoginScope = "openid profile email offline_access"
