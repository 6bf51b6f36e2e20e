package rotator

import "errors"

// Sentinel errors for key rotation.
var (
	// ErrFetch wraps every failure to obtain a verification key from the broker.
	ErrFetch = errors.New("failed to fetch verification key")

	// ErrUnexpectedStatus is returned when the certs endpoint answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected certs response status")

	// ErrMissingCert is returned when the certs document has no public_cert.cert field.
	ErrMissingCert = errors.New("certs response has no public certificate")

	// ErrInvalidPEM is returned when the certificate field is not a usable PEM block.
	ErrInvalidPEM = errors.New("invalid PEM certificate")

	// ErrDomainRequired is returned when the broker domain is empty.
	ErrDomainRequired = errors.New("broker domain is required")

	// ErrCellRequired is returned when no key cell is supplied.
	ErrCellRequired = errors.New("key cell is required")

	// ErrFetcherRequired is returned when no fetcher is supplied.
	ErrFetcherRequired = errors.New("fetcher is required")
)
