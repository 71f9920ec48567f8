package api

import (
	"encoding/json"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/alexjbarnes/idp-relay/internal/auth"
	apperrors "github.com/alexjbarnes/idp-relay/internal/errors"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// immutableFields cannot be changed through updateUser.
var immutableFields = []string{"email", "password"}

func validateNewUserCredentials(email, password string) error {
	if email == "" || password == "" {
		return invalid(apperrors.ErrInvalidRequest, "email and password are required")
	}

	if !emailPattern.MatchString(email) {
		return invalid(apperrors.ErrInvalidFormat, "email is not a valid address")
	}

	if len(password) < minPasswordLength {
		return invalid(apperrors.ErrInvalidFormat, "password must be at least %d characters", minPasswordLength)
	}

	return nil
}

func validateUpdates(updates map[string]any) error {
	if len(updates) == 0 {
		return invalid(apperrors.ErrInvalidRequest, "updates must be a non-empty object")
	}

	blocked := lo.Filter(lo.Keys(updates), func(key string, _ int) bool {
		return lo.ContainsBy(immutableFields, func(f string) bool { return strings.EqualFold(f, key) })
	})
	if len(blocked) > 0 {
		slices.Sort(blocked)
		return invalid(apperrors.ErrImmutableField, "updates cannot change %s", strings.Join(blocked, ", "))
	}

	return nil
}

// parseRoles checks that raw is a non-empty array of non-empty strings,
// each naming the supported role. It returns the distinct role names.
func parseRoles(raw json.RawMessage, supported string) ([]string, error) {
	var items []any
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil || len(items) == 0 {
		return nil, invalid(apperrors.ErrInvalidRequest, "roles must be a non-empty array of role names")
	}

	roles := make([]string, 0, len(items))

	for _, item := range items {
		name, ok := item.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return nil, invalid(apperrors.ErrInvalidRequest, "roles must be a non-empty array of role names")
		}

		if !auth.HasRole([]string{name}, supported) {
			return nil, invalid(apperrors.ErrUnsupportedRole, "role %q is not supported; only %q can be managed", name, supported)
		}

		roles = append(roles, supported)
	}

	return lo.Uniq(roles), nil
}
