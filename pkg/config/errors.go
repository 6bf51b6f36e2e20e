package config

import "errors"

// ErrBrokerDomainRequired is returned when no broker domain is configured.
var ErrBrokerDomainRequired = errors.New("broker domain is required")

// ErrInvalidBrokerDomain is returned when the broker domain is not an absolute http(s) URL.
var ErrInvalidBrokerDomain = errors.New("invalid broker domain")

// ErrInvalidPort is returned when the server port is outside 1-65535.
var ErrInvalidPort = errors.New("invalid server port")

// ErrInvalidDuration is returned when a duration setting is out of range.
var ErrInvalidDuration = errors.New("invalid duration")

// ErrInvalidFailureCeiling is returned when rotation.max_consecutive_failures is below 1.
var ErrInvalidFailureCeiling = errors.New("invalid max consecutive failures")
