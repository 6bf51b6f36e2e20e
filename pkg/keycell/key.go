package keycell

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// VerificationKey is an RSA public key bound to the RS256 algorithm.
// It is immutable once constructed.
type VerificationKey struct {
	key        jwk.Key
	thumbprint string
}

// NewVerificationKey wraps an RSA public key for RS256 signature verification.
func NewVerificationKey(pub crypto.PublicKey) (VerificationKey, error) {
	if pub == nil {
		return VerificationKey{}, fmt.Errorf("create verification key: %w", ErrNilKey)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return VerificationKey{}, fmt.Errorf("create verification key: %w: %T", ErrUnsupportedKey, pub)
	}
	return newRSAKey(rsaPub)
}

// FromJWK builds a VerificationKey from a parsed JWK, such as one returned by
// jwk.ParseKey. Only RSA public keys are accepted. The result does not share
// state with key.
func FromJWK(key jwk.Key) (VerificationKey, error) {
	if key == nil {
		return VerificationKey{}, fmt.Errorf("create verification key: %w", ErrNilKey)
	}
	if kty := key.KeyType(); kty != jwa.RSA() {
		return VerificationKey{}, fmt.Errorf("create verification key: %w: kty %s", ErrUnsupportedKey, kty)
	}
	if _, ok := key.(jwk.RSAPrivateKey); ok {
		return VerificationKey{}, fmt.Errorf("create verification key: %w: private key", ErrUnsupportedKey)
	}

	var raw rsa.PublicKey
	if err := jwk.Export(key, &raw); err != nil {
		return VerificationKey{}, fmt.Errorf("create verification key: %w: %w", ErrUnsupportedKey, err)
	}
	return newRSAKey(&raw)
}

func newRSAKey(pub *rsa.PublicKey) (VerificationKey, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return VerificationKey{}, fmt.Errorf("import public key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256()); err != nil {
		return VerificationKey{}, fmt.Errorf("set key algorithm: %w", err)
	}

	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return VerificationKey{}, fmt.Errorf("compute key thumbprint: %w", err)
	}

	return VerificationKey{
		key:        key,
		thumbprint: base64.RawURLEncoding.EncodeToString(sum),
	}, nil
}

// Key returns the underlying JWK.
func (k VerificationKey) Key() jwk.Key {
	return k.key
}

// Algorithm returns the only algorithm this key verifies.
func (k VerificationKey) Algorithm() jwa.SignatureAlgorithm {
	return jwa.RS256()
}

// Thumbprint returns the RFC 7638 SHA-256 thumbprint, base64url encoded.
func (k VerificationKey) Thumbprint() string {
	return k.thumbprint
}

// Record pairs a VerificationKey with the instant it was fetched.
// Records are never mutated; each fetch produces a new one.
type Record struct {
	Key       VerificationKey
	FetchedAt time.Time
}

// NewRecord returns a record for key stamped with fetchedAt.
func NewRecord(key VerificationKey, fetchedAt time.Time) *Record {
	return &Record{Key: key, FetchedAt: fetchedAt}
}

// Age returns how long ago the record was fetched relative to now.
func (r *Record) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}
