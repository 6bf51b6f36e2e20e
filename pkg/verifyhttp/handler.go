// Package verifyhttp exposes token validation over HTTP.
//
// GET /verify/{aud} reads the token from the configured header and answers
// 200 with the claim set as JSON, or 401 with an empty body on any failure.
package verifyhttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deepworx/accessgate/pkg/ctxutil"
	"github.com/deepworx/accessgate/pkg/validator"
)

// DefaultTokenHeader is the header the broker's edge uses to forward the token.
const DefaultTokenHeader = "Cf-Access-Jwt-Assertion"

// TokenValidator validates a token for an expected audience.
type TokenValidator interface {
	Validate(ctx context.Context, token, expectedAudience string) (validator.Claims, error)
}

// Handler serves the verify endpoint.
type Handler struct {
	validator   TokenValidator
	tokenHeader string
}

// NewHandler creates a verify handler. An empty tokenHeader selects
// DefaultTokenHeader.
func NewHandler(v TokenValidator, tokenHeader string) (*Handler, error) {
	if v == nil {
		return nil, fmt.Errorf("create verify handler: %w", ErrValidatorRequired)
	}
	if tokenHeader == "" {
		tokenHeader = DefaultTokenHeader
	}
	return &Handler{validator: v, tokenHeader: tokenHeader}, nil
}

// ServeHTTP implements http.Handler. The audience is taken from the {aud}
// route parameter.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	aud := chi.URLParam(r, "aud")

	token := r.Header.Get(h.tokenHeader)
	if token == "" {
		slog.DebugContext(ctx, "verify denied",
			append(ctxutil.LogAttrs(ctx),
				slog.String("audience", aud),
				slog.String("reason", ErrMissingToken.Error()),
			)...)
		deny(w)
		return
	}

	claims, err := h.validator.Validate(ctx, token, aud)
	if err != nil {
		level := slog.LevelDebug
		if errors.Is(err, validator.ErrKeyUnavailable) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "verify denied",
			append(ctxutil.LogAttrs(ctx),
				slog.String("audience", aud),
				slog.String("error", err.Error()),
			)...)
		deny(w)
		return
	}

	body, err := json.Marshal(claims)
	if err != nil {
		slog.ErrorContext(ctx, "encode claims", append(ctxutil.LogAttrs(ctx), slog.String("error", err.Error()))...)
		deny(w)
		return
	}

	ctx = ctxutil.WithIdentity(ctx, identityOf(claims, aud))
	slog.DebugContext(ctx, "verify allowed", ctxutil.LogAttrs(ctx)...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func deny(w http.ResponseWriter) {
	w.WriteHeader(http.StatusUnauthorized)
}

func identityOf(claims validator.Claims, aud string) ctxutil.Identity {
	id := ctxutil.Identity{Audience: aud}
	if s, ok := claims["sub"].(string); ok {
		id.Subject = s
	}
	if s, ok := claims["email"].(string); ok {
		id.Email = s
	}
	return id
}
