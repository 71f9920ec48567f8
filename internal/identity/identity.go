// Package identity turns a provider id_token into a profile and role list.
//
// Tokens are decoded, not verified. They are only ever read straight from
// the provider's token endpoint over TLS, so there is no untrusted hop
// between issuance and decoding.
package identity

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
	"github.com/alexjbarnes/idp-relay/internal/models"
)

// Decode parses the claims segment of a JWT without checking its signature.
func Decode(rawIDToken string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrTokenDecode, err)
	}

	return claims, nil
}

// BuildProfile maps standard OIDC claims onto a Profile. The display name
// falls back to "given family" and then to the email address.
func BuildProfile(claims jwt.MapClaims) models.Profile {
	p := models.Profile{
		ID:         stringClaim(claims, "sub"),
		Email:      stringClaim(claims, "email"),
		GivenName:  stringClaim(claims, "given_name"),
		FamilyName: stringClaim(claims, "family_name"),
		Nickname:   stringClaim(claims, "nickname"),
		Picture:    stringClaim(claims, "picture"),
	}

	if v, ok := claims["email_verified"].(bool); ok {
		p.EmailVerified = v
	}

	p.Name = stringClaim(claims, "name")
	if p.Name == "" {
		p.Name = strings.TrimSpace(p.GivenName + " " + p.FamilyName)
	}

	if p.Name == "" {
		p.Name = p.Email
	}

	// Okta populates preferred_username rather than nickname.
	if p.Nickname == "" {
		p.Nickname = stringClaim(claims, "preferred_username")
	}

	return p
}

// Roles reads the named claim as a list of role names. A claim that is
// absent yields an empty list; a claim that is present but not an array
// is logged and also yields an empty list. Non-string and empty entries
// are dropped.
func Roles(claims map[string]any, claim string, logger *slog.Logger) []string {
	raw, ok := claims[claim]
	if !ok || raw == nil {
		return []string{}
	}

	switch v := raw.(type) {
	case []any:
		return lo.FilterMap(v, func(item any, _ int) (string, bool) {
			s, ok := item.(string)
			return s, ok && s != ""
		})
	case []string:
		return lo.Filter(v, func(s string, _ int) bool { return s != "" })
	default:
		logger.Warn("roles claim is not an array, using empty list",
			slog.String("claim", claim),
			slog.String("type", fmt.Sprintf("%T", raw)),
		)

		return []string{}
	}
}

func stringClaim(claims jwt.MapClaims, name string) string {
	v, _ := claims[name].(string)
	return v
}
