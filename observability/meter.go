package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/tradeguard/logger"
)

// InitMeter initializes the OpenTelemetry meter provider.
// Returns a MeterProvider that should be shut down on application exit.
func InitMeter(ctx context.Context, config Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.MetricInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.MetricInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.MetricInterval.String(),
	))

	return mp, nil
}

// Meter returns the gateway meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(TracerName)
}

// Metrics holds the gateway's metric instruments.
type Metrics struct {
	requestTotal    metric.Int64Counter
	requestDuration metric.Float64Histogram
	tokenWait       metric.Float64Histogram
	retryTotal      metric.Int64Counter
	rejectTotal     metric.Int64Counter
	alertTotal      metric.Int64Counter
	queueDepth      metric.Int64Gauge
	bucketTokens    metric.Float64Gauge
	breakerState    metric.Int64Gauge
	breakerHealth   metric.Float64Gauge
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	if m.requestTotal, err = meter.Int64Counter("tradeguard.request.total",
		metric.WithDescription("Executed exchange requests by endpoint, priority and outcome"),
	); err != nil {
		return nil, fmt.Errorf("creating request.total counter: %w", err)
	}
	if m.requestDuration, err = meter.Float64Histogram("tradeguard.request.duration",
		metric.WithDescription("Duration of exchange requests in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating request.duration histogram: %w", err)
	}
	if m.tokenWait, err = meter.Float64Histogram("tradeguard.token.wait",
		metric.WithDescription("Time spent waiting for rate-limit tokens in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating token.wait histogram: %w", err)
	}
	if m.retryTotal, err = meter.Int64Counter("tradeguard.retry.total",
		metric.WithDescription("Scheduled retries by error code"),
	); err != nil {
		return nil, fmt.Errorf("creating retry.total counter: %w", err)
	}
	if m.rejectTotal, err = meter.Int64Counter("tradeguard.reject.total",
		metric.WithDescription("Tasks failed fast by the gateway, by error code"),
	); err != nil {
		return nil, fmt.Errorf("creating reject.total counter: %w", err)
	}
	if m.alertTotal, err = meter.Int64Counter("tradeguard.alert.total",
		metric.WithDescription("Health alerts by severity and type"),
	); err != nil {
		return nil, fmt.Errorf("creating alert.total counter: %w", err)
	}
	if m.queueDepth, err = meter.Int64Gauge("tradeguard.queue.depth",
		metric.WithDescription("Pending tasks per priority level"),
	); err != nil {
		return nil, fmt.Errorf("creating queue.depth gauge: %w", err)
	}
	if m.bucketTokens, err = meter.Float64Gauge("tradeguard.bucket.tokens",
		metric.WithDescription("Available rate-limit tokens"),
	); err != nil {
		return nil, fmt.Errorf("creating bucket.tokens gauge: %w", err)
	}
	if m.breakerState, err = meter.Int64Gauge("tradeguard.breaker.state",
		metric.WithDescription("Circuit breaker state (0 closed, 1 open, 2 half-open)"),
	); err != nil {
		return nil, fmt.Errorf("creating breaker.state gauge: %w", err)
	}
	if m.breakerHealth, err = meter.Float64Gauge("tradeguard.breaker.health",
		metric.WithDescription("Circuit breaker health score"),
	); err != nil {
		return nil, fmt.Errorf("creating breaker.health gauge: %w", err)
	}
	return &m, nil
}

// NewNopMetrics returns instruments that record nothing.
func NewNopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter(TracerName))
	return m
}

// RecordRequest records one executed request. code is empty on success.
func (m *Metrics) RecordRequest(ctx context.Context, endpoint, priority, code string, duration time.Duration) {
	outcome := "success"
	if code != "" {
		outcome = code
	}
	m.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("priority", priority),
		attribute.String("outcome", outcome),
	))
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("priority", priority),
	))
}

// RecordTokenWait records the admission wait of one task.
func (m *Metrics) RecordTokenWait(ctx context.Context, priority string, wait time.Duration) {
	m.tokenWait.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("priority", priority)))
}

// RecordRetry records a scheduled retry.
func (m *Metrics) RecordRetry(ctx context.Context, code string) {
	m.retryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordReject records a task failed by the gateway before or instead of execution.
func (m *Metrics) RecordReject(ctx context.Context, code string) {
	m.rejectTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

// RecordAlert records a health alert.
func (m *Metrics) RecordAlert(ctx context.Context, severity, alertType string) {
	m.alertTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.String("type", alertType),
	))
}

// RecordQueueDepth records the pending count of one priority level.
func (m *Metrics) RecordQueueDepth(ctx context.Context, level string, depth int) {
	m.queueDepth.Record(ctx, int64(depth), metric.WithAttributes(attribute.String("level", level)))
}

// RecordBucket records the available tokens.
func (m *Metrics) RecordBucket(ctx context.Context, tokens float64) {
	m.bucketTokens.Record(ctx, tokens)
}

// RecordBreaker records the breaker state and health score.
func (m *Metrics) RecordBreaker(ctx context.Context, name string, state int, health float64) {
	attrs := metric.WithAttributes(attribute.String("breaker", name))
	m.breakerState.Record(ctx, int64(state), attrs)
	m.breakerHealth.Record(ctx, health, attrs)
}
