// Package ctxutil stores request-scoped values in context.Context.
package ctxutil

import (
	"context"
	"log/slog"
)

// ctxKey is an unexported type for context keys to prevent collisions.
type ctxKey int

const (
	requestIDKey ctxKey = iota
	identityKey
)

// Identity describes the caller vouched for by a validated token.
type Identity struct {
	Subject  string
	Email    string
	Audience string
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID from the context.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// WithIdentity returns a new context carrying the validated caller identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller identity from the context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// LogAttrs returns slog attributes for the request-scoped values present in ctx.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	if reqID, ok := RequestID(ctx); ok {
		attrs = append(attrs, slog.String("request_id", reqID))
	}
	if id, ok := GetIdentity(ctx); ok {
		if id.Subject != "" {
			attrs = append(attrs, slog.String("subject", id.Subject))
		}
		if id.Email != "" {
			attrs = append(attrs, slog.String("email", id.Email))
		}
		if id.Audience != "" {
			attrs = append(attrs, slog.String("audience", id.Audience))
		}
	}
	return attrs
}
