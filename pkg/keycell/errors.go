package keycell

import "errors"

// Sentinel errors for the key cell.
var (
	// ErrKeyUnavailable is returned when the cell is empty or its record has expired.
	ErrKeyUnavailable = errors.New("verification key unavailable")

	// ErrNilKey is returned when a verification key is built from a nil public key or JWK.
	ErrNilKey = errors.New("verification key is nil")

	// ErrUnsupportedKey is returned when the key material is not an RSA public key,
	// including RSA private keys.
	ErrUnsupportedKey = errors.New("unsupported verification key type")
)
