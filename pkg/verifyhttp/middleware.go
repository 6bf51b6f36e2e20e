package verifyhttp

import (
	"encoding/hex"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/deepworx/accessgate/pkg/ctxutil"
)

// DefaultRequestIDHeader is read for an incoming request ID and echoed on the response.
const DefaultRequestIDHeader = "X-Request-ID"

// Recovery turns handler panics into a logged 500 response.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			if rv == http.ErrAbortHandler {
				panic(rv)
			}

			const stackSize = 4096
			stack := make([]byte, stackSize)
			n := runtime.Stack(stack, false)

			ctx := r.Context()
			slog.ErrorContext(ctx, "panic recovered",
				append(ctxutil.LogAttrs(ctx),
					slog.String("path", r.URL.Path),
					slog.Any("panic", rv),
					slog.String("stack", string(stack[:n])),
				)...)

			w.WriteHeader(http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// RequestID propagates the request ID from header, generating one when absent.
// The ID is stored via ctxutil.WithRequestID and echoed in the response header.
func RequestID(header string) func(http.Handler) http.Handler {
	if header == "" {
		header = DefaultRequestIDHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(header)
			if id == "" {
				id = generateID()
			}
			w.Header().Set(header, id)
			next.ServeHTTP(w, r.WithContext(ctxutil.WithRequestID(r.Context(), id)))
		})
	}
}

// AccessLog logs one line per request. 5xx responses are logged at Error,
// denials at Info and everything else at Debug.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		ctx := r.Context()
		attrs := append(ctxutil.LogAttrs(ctx),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)

		switch {
		case status >= http.StatusInternalServerError:
			slog.ErrorContext(ctx, "request failed", attrs...)
		case status == http.StatusUnauthorized:
			slog.InfoContext(ctx, "request denied", attrs...)
		default:
			slog.DebugContext(ctx, "request completed", attrs...)
		}
	})
}

func generateID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
