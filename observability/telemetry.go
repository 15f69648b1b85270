package observability

import (
	"context"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
)

// Telemetry owns the providers created by Init.
type Telemetry struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Init installs the OTLP tracer and meter providers when config.Enabled is
// set. A disabled config returns an empty Telemetry whose Shutdown is a no-op.
func Init(ctx context.Context, config Config) (*Telemetry, error) {
	config.ApplyDefaults()
	t := &Telemetry{}
	if !config.Enabled {
		return t, nil
	}

	tp, err := InitTracer(ctx, config)
	if err != nil {
		return nil, err
	}
	t.tracer = tp

	mp, err := InitMeter(ctx, config)
	if err != nil {
		return nil, multierr.Append(err, tp.Shutdown(ctx))
	}
	t.meter = mp
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	if t.tracer != nil {
		err = multierr.Append(err, t.tracer.Shutdown(ctx))
	}
	if t.meter != nil {
		err = multierr.Append(err, t.meter.Shutdown(ctx))
	}
	return err
}
