// Package rotator keeps the key cell populated with the broker's current
// verification key.
//
// A Rotator is the only writer of the cell and the only component that talks
// to the broker. It refreshes on a fixed interval and retries failed fetches
// with jittered exponential backoff, raising an alert after a run of
// consecutive failures while leaving the previous record in place.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/deepworx/accessgate/pkg/keycell"
	"github.com/deepworx/accessgate/pkg/tracing"
)

const meterName = "github.com/deepworx/accessgate/pkg/rotator"

// AlertFunc is called once per outage when consecutive failures reach the ceiling.
type AlertFunc func(ctx context.Context, failures int, err error)

// Config holds configuration for the rotator.
type Config struct {
	// Interval between successful refreshes.
	Interval time.Duration `koanf:"interval"`

	// MaxConsecutiveFailures is the number of failed fetches in a row that
	// raises an alert. Retrying continues afterwards at MaxBackoff.
	MaxConsecutiveFailures int `koanf:"max_consecutive_failures"`

	// InitialBackoff is the first retry delay after a failure.
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `koanf:"max_backoff"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Interval:               24 * time.Hour,
		MaxConsecutiveFailures: 10,
		InitialBackoff:         time.Second,
		MaxBackoff:             5 * time.Minute,
	}
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithAlert sets the hook invoked when the failure ceiling is reached.
func WithAlert(fn AlertFunc) Option {
	return func(r *Rotator) {
		r.onAlert = fn
	}
}

// WithClock overrides the clock used to stamp fetched records.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) {
		r.now = now
	}
}

// Rotator periodically fetches a verification key and installs it into a Cell.
type Rotator struct {
	cell     *keycell.Cell
	fetcher  Fetcher
	interval time.Duration
	ceiling  int
	backoff  *backoff.ExponentialBackOff
	onAlert  AlertFunc
	now      func() time.Time

	failures atomic.Int64

	fetches metric.Int64Counter
	alerts  metric.Int64Counter
}

// New creates a Rotator writing into cell. Zero Config fields take their
// DefaultConfig values.
func New(cell *keycell.Cell, fetcher Fetcher, cfg Config, opts ...Option) (*Rotator, error) {
	if cell == nil {
		return nil, fmt.Errorf("create rotator: %w", ErrCellRequired)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("create rotator: %w", ErrFetcherRequired)
	}

	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.Reset()

	meter := otel.Meter(meterName)
	fetches, err := meter.Int64Counter(
		"accessgate.rotator.fetches",
		metric.WithDescription("Verification key fetch attempts by result"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register fetches metric: %w", err)
	}
	alerts, err := meter.Int64Counter(
		"accessgate.rotator.alerts",
		metric.WithDescription("Alerts raised after consecutive fetch failures"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("register alerts metric: %w", err)
	}

	r := &Rotator{
		cell:     cell,
		fetcher:  fetcher,
		interval: cfg.Interval,
		ceiling:  cfg.MaxConsecutiveFailures,
		backoff:  b,
		now:      time.Now,
		fetches:  fetches,
		alerts:   alerts,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Refresh fetches a key once and installs it into the cell on success.
// Returned errors wrap ErrFetch; the cell is left untouched on failure.
func (r *Rotator) Refresh(ctx context.Context) error {
	return tracing.WithSpan(ctx, "rotator.refresh", func(ctx context.Context) error {
		key, err := r.fetcher.Fetch(ctx)
		if err != nil {
			r.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "failure")))
			if !errors.Is(err, ErrFetch) {
				err = fmt.Errorf("%w: %w", ErrFetch, err)
			}
			return err
		}

		rec := keycell.NewRecord(key, r.now())
		r.cell.Set(rec)
		r.fetches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "success")))

		slog.InfoContext(ctx, "verification key refreshed",
			slog.String("thumbprint", key.Thumbprint()),
			slog.Time("fetched_at", rec.FetchedAt),
		)
		return nil
	})
}

// Run refreshes the key until ctx is cancelled and returns ctx.Err().
// The first fetch happens immediately.
func (r *Rotator) Run(ctx context.Context) error {
	slog.InfoContext(ctx, "key rotator started", slog.Duration("interval", r.interval))
	defer slog.InfoContext(ctx, "key rotator stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.Refresh(ctx)
		if err == nil {
			r.failures.Store(0)
			r.backoff.Reset()
			if err := sleep(ctx, r.interval); err != nil {
				return err
			}
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		failures := int(r.failures.Add(1))
		delay := r.backoff.NextBackOff()
		slog.WarnContext(ctx, "verification key fetch failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive_failures", failures),
			slog.Duration("retry_in", delay),
		)
		if failures == r.ceiling {
			r.alert(ctx, failures, err)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// ConsecutiveFailures returns the number of failed fetches since the last success.
func (r *Rotator) ConsecutiveFailures() int {
	return int(r.failures.Load())
}

func (r *Rotator) alert(ctx context.Context, failures int, err error) {
	r.alerts.Add(ctx, 1)

	attrs := []any{
		slog.String("error", err.Error()),
		slog.Int("consecutive_failures", failures),
	}
	if rec := r.cell.Peek(); rec != nil {
		attrs = append(attrs,
			slog.String("cached_thumbprint", rec.Key.Thumbprint()),
			slog.Time("cached_fetched_at", rec.FetchedAt),
		)
	}
	slog.ErrorContext(ctx, "verification key rotation is failing", attrs...)

	if r.onAlert != nil {
		r.onAlert(ctx, failures, err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
