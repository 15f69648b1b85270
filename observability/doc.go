// Package observability wires OpenTelemetry tracing and metrics for the
// gateway.
//
// Tracing and metrics export over OTLP/HTTP:
//
//	tel, err := observability.Init(ctx, cfg.Observability)
//	defer tel.Shutdown(ctx)
//
//	metrics, err := observability.NewMetrics(observability.Meter())
//	metrics.RecordRequest(ctx, "/api/v3/order", "HIGH", "", duration)
//
//	ctx, span := observability.Tracer().Start(ctx, observability.SpanTaskExecute)
//	defer observability.EndSpan(span, err)
package observability
