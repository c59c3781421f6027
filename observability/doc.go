// Package observability wires OpenTelemetry tracing and metrics into the
// reset engines.
//
// Spans are opened through the global tracer, so nothing is exported until
// a provider is installed:
//
//	shutdown, err := observability.Setup(ctx, cfg.Observability, version.Version, log)
//	defer shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, observability.SpanReset)
//	defer func() { observability.EndSpan(span, err) }()
//
// Metrics:
//
//	metrics, err := observability.NewMetrics(observability.Meter("resetkit"))
//	metrics.RecordReset(ctx, "database", true, elapsed)
package observability
