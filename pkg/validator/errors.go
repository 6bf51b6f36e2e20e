package validator

import (
	"errors"

	"github.com/deepworx/accessgate/pkg/keycell"
)

// Sentinel errors for token validation.
var (
	// ErrKeyUnavailable is returned when no usable verification key is cached.
	ErrKeyUnavailable = keycell.ErrKeyUnavailable

	// ErrValidation is returned for any signature or claim failure.
	// The wrapped cause is meant for logs only.
	ErrValidation = errors.New("token validation failed")

	// ErrIssuerRequired is returned when Issuer is empty.
	ErrIssuerRequired = errors.New("issuer is required")

	// ErrCellRequired is returned when no key cell is supplied.
	ErrCellRequired = errors.New("key cell is required")

	// ErrEmptyToken is wrapped in ErrValidation when the token is empty.
	ErrEmptyToken = errors.New("empty token")

	// ErrEmptyAudience is wrapped in ErrValidation when the expected audience is empty.
	ErrEmptyAudience = errors.New("empty expected audience")
)
