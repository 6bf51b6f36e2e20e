// Package validator verifies broker-issued RS256 tokens against the key
// currently held in a keycell.Cell.
//
// Validation never performs network I/O. Any failure is reported as either
// ErrKeyUnavailable or ErrValidation; callers are expected to deny on both.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deepworx/accessgate/pkg/keycell"
	"github.com/deepworx/accessgate/pkg/tracing"
)

const meterName = "github.com/deepworx/accessgate/pkg/validator"

// DefaultLeeway is the clock skew tolerance used by DefaultConfig.
const DefaultLeeway = time.Minute

// Claims is the decoded payload of a validated token.
// Numeric values are kept as json.Number so they re-encode unchanged.
type Claims map[string]any

// Config holds configuration for the validator.
type Config struct {
	// Issuer is the expected "iss" claim value, the broker domain.
	// Required.
	Issuer string

	// Leeway allows clock skew tolerance for exp/nbf/iat validation.
	// Zero means no tolerance.
	Leeway time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a Config with DefaultLeeway. Issuer must still be set.
func DefaultConfig() Config {
	return Config{Leeway: DefaultLeeway}
}

// Validator checks tokens against the cached verification key.
type Validator struct {
	cell   *keycell.Cell
	issuer string
	leeway time.Duration
	clock  jwt.Clock

	results metric.Int64Counter
}

// New creates a Validator reading keys from cell.
func New(cell *keycell.Cell, cfg Config) (*Validator, error) {
	if cell == nil {
		return nil, fmt.Errorf("create validator: %w", ErrCellRequired)
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("create validator: %w", ErrIssuerRequired)
	}

	leeway := max(cfg.Leeway, 0)

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	results, err := otel.Meter(meterName).Int64Counter(
		"accessgate.validations",
		metric.WithDescription("Token validations by result"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register validations metric: %w", err)
	}

	return &Validator{
		cell:    cell,
		issuer:  cfg.Issuer,
		leeway:  leeway,
		clock:   jwt.ClockFunc(now),
		results: results,
	}, nil
}

// Validate verifies token for expectedAudience and returns its claims.
// The token must be signed by the cached key with RS256, carry "aud"
// containing expectedAudience, "iss" equal to the configured issuer and an
// unexpired "exp".
func (v *Validator) Validate(ctx context.Context, token, expectedAudience string) (Claims, error) {
	claims, err := tracing.WithSpanResult(ctx, "validator.validate", func(ctx context.Context) (Claims, error) {
		return v.validate(token, expectedAudience)
	}, attribute.String("audience", expectedAudience))

	v.results.Add(ctx, 1, metric.WithAttributes(attribute.String("result", resultOf(err))))
	return claims, err
}

func (v *Validator) validate(token, expectedAudience string) (Claims, error) {
	if expectedAudience == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyAudience)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %w", ErrValidation, ErrEmptyToken)
	}

	rec, err := v.cell.Get()
	if err != nil {
		return nil, fmt.Errorf("lookup verification key: %w", err)
	}

	_, err = jwt.Parse(
		[]byte(token),
		jwt.WithKey(rec.Key.Algorithm(), rec.Key.Key()),
		jwt.WithValidate(true),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(expectedAudience),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithAcceptableSkew(v.leeway),
		jwt.WithClock(v.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	claims, err := decodeClaims(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return claims, nil
}

// decodeClaims returns the payload of an already verified compact JWS.
func decodeClaims(token string) (Claims, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("parse jws: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(msg.Payload()))
	dec.UseNumber()

	var claims Claims
	if err := dec.Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return claims, nil
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "allowed"
	case errors.Is(err, ErrKeyUnavailable):
		return "key_unavailable"
	default:
		return "denied"
	}
}
