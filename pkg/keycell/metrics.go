package keycell

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/deepworx/accessgate/pkg/keycell"

// RegisterMetrics registers observable gauges describing the cell state
// on the global meter provider.
func RegisterMetrics(cell *Cell) error {
	meter := otel.Meter(meterName)

	_, err := meter.Float64ObservableGauge(
		"accessgate.key.age",
		metric.WithDescription("Age of the stored verification key"),
		metric.WithUnit("s"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			rec := cell.Peek()
			if rec == nil {
				return nil
			}
			o.Observe(rec.Age(cell.now()).Seconds())
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register key age metric: %w", err)
	}

	_, err = meter.Int64ObservableGauge(
		"accessgate.key.usable",
		metric.WithDescription("Whether a non-expired verification key is stored (0 or 1)"),
		metric.WithUnit("{key}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			var usable int64
			if _, err := cell.Get(); err == nil {
				usable = 1
			}
			o.Observe(usable)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("register key usable metric: %w", err)
	}

	return nil
}
