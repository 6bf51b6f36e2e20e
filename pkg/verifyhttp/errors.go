package verifyhttp

import "errors"

// Sentinel errors for the HTTP layer.
var (
	// ErrMissingToken is logged when the token header is absent or empty.
	ErrMissingToken = errors.New("missing token header")

	// ErrValidatorRequired is returned when no validator is supplied.
	ErrValidatorRequired = errors.New("validator is required")

	// ErrHandlerRequired is returned when no verify handler is supplied.
	ErrHandlerRequired = errors.New("verify handler is required")
)
