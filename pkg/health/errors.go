package health

import "errors"

// Sentinel errors for checker registration.
var (
	// ErrEmptyName is returned when a checker is registered without a name.
	ErrEmptyName = errors.New("health checker name is empty")

	// ErrDuplicateName is returned when a checker name is already registered.
	ErrDuplicateName = errors.New("health checker already registered")
)
