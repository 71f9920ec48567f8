package errors

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrInvalidAction   = errors.New("invalid action")
	ErrUnsupportedRole = errors.New("unsupported role")
	ErrImmutableField  = errors.New("field cannot be changed")
)

// Authentication and authorization errors.
var (
	ErrUnauthorized = errors.New("authorization required")
	ErrForbidden    = errors.New("insufficient permissions")
	ErrRateLimited  = errors.New("too many requests")
)

// Lookup errors.
var (
	ErrRoleNotFound = errors.New("role not found")
)

// Server/transport errors.
var (
	ErrMissingIDToken = errors.New("identity token missing from provider response")
	ErrTokenDecode    = errors.New("identity token could not be decoded")
	ErrServiceToken   = errors.New("service token unavailable")
	ErrConfig         = errors.New("server configuration incomplete")
)

// ProviderError is a non-2xx answer from the identity provider. Status
// and Body are kept verbatim so they can be relayed to the caller.
type ProviderError struct {
	Op     string
	Status int
	Body   []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s returned status %d", e.Op, e.Status)
}

// AsProviderError returns the first ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}

	return nil, false
}
