// Package otel initializes OpenTelemetry tracing, metrics and logging.
//
// Exporters are chosen through the standard OTEL_* environment variables
// (autoexport). When telemetry is disabled the global no-op providers stay
// in place and instruments created elsewhere cost nothing.
package otel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/exporters/autoexport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/deepworx/accessgate/pkg/shutdown"
)

// ErrServiceNameRequired is returned when telemetry is enabled without a service name.
var ErrServiceNameRequired = errors.New("telemetry service name is required")

// Config holds the configuration for OpenTelemetry setup.
type Config struct {
	// Enabled turns on the SDK providers. Default: false.
	Enabled bool `koanf:"enabled"`

	// ServiceName is the name of the service. Required when Enabled.
	ServiceName string `koanf:"service_name"`

	// ServiceVersion is the version of the service.
	ServiceVersion string `koanf:"service_version"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ServiceName: "accessgate",
	}
}

// Validate checks that an enabled configuration names the service.
func (c Config) Validate() error {
	if c.Enabled && c.ServiceName == "" {
		return ErrServiceNameRequired
	}
	return nil
}

// Providers exposes the SDK providers created by Setup.
type Providers struct {
	logger *log.LoggerProvider
}

// LogHandler returns a slog.Handler exporting records through the
// OpenTelemetry log pipeline, or nil when telemetry is disabled.
func (p *Providers) LogHandler(name string) slog.Handler {
	if p == nil || p.logger == nil {
		return nil
	}
	return otelslog.NewHandler(name, otelslog.WithLoggerProvider(p.logger))
}

// Setup initializes OpenTelemetry providers and registers their shutdown
// with g. With cfg.Enabled false it only installs the propagators.
func Setup(ctx context.Context, cfg Config, g *shutdown.Group) (*Providers, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return &Providers{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	tp, err := newTracerProvider(ctx, res)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	mp, err := newMeterProvider(ctx, res)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("setup telemetry: %w", err), tp.Shutdown(ctx))
	}

	lp, err := newLoggerProvider(ctx, res)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("setup telemetry: %w", err), tp.Shutdown(ctx), mp.Shutdown(ctx))
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		slog.Warn("telemetry export failed", slog.String("error", err.Error()))
	}))

	g.Register("telemetry", func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	})

	return &Providers{logger: lp}, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithHost(),
		resource.WithOS(),
		resource.WithContainer(),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

func newTracerProvider(ctx context.Context, res *resource.Resource) (*trace.TracerProvider, error) {
	exp, err := autoexport.NewSpanExporter(ctx)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exp),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource) (*metric.MeterProvider, error) {
	reader, err := autoexport.NewMetricReader(ctx)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(reader),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource) (*log.LoggerProvider, error) {
	exp, err := autoexport.NewLogExporter(ctx)
	if err != nil {
		return nil, err
	}
	return log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exp)),
	), nil
}
