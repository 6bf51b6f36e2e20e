package verifyhttp

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deepworx/accessgate/pkg/health"
)

// Options configures the router.
type Options struct {
	monitor         *health.Monitor
	requestIDHeader string
}

// Option configures the router builder.
type Option func(*Options)

// WithHealth mounts the monitor's gRPC health endpoint plus /healthz and /readyz.
func WithHealth(m *health.Monitor) Option {
	return func(o *Options) {
		o.monitor = m
	}
}

// WithRequestIDHeader overrides DefaultRequestIDHeader.
func WithRequestIDHeader(header string) Option {
	return func(o *Options) {
		o.requestIDHeader = header
	}
}

// NewRouter builds the HTTP handler tree around h.
// Middleware runs in order: recovery, request ID, otelhttp, access log.
func NewRouter(h *Handler, opts ...Option) (http.Handler, error) {
	if h == nil {
		return nil, fmt.Errorf("build router: %w", ErrHandlerRequired)
	}
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	r := chi.NewRouter()

	// 1. Recovery - always first, catches panics from all downstream
	r.Use(Recovery)

	// 2. RequestID - before tracing and logging use it
	r.Use(RequestID(o.requestIDHeader))

	// 3. OTel - spans cover validation time
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "accessgate.http")
	})

	// 4. Access log - one line per request with request ID
	r.Use(AccessLog)

	r.Method(http.MethodGet, "/verify/{aud}", h)

	if o.monitor != nil {
		path, grpcHealth := o.monitor.Handler()
		r.Handle(path+"*", grpcHealth)
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Method(http.MethodGet, "/readyz", o.monitor.ReadyHandler())
	}

	return r, nil
}
