package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/resetkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is reported as service.name.
	ServiceName string
	// ServiceVersion is reported as service.version.
	ServiceVersion string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows plain HTTP connections.
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for a local collector.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter installs a global meter provider exporting over OTLP/HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, config MeterConfig, log *logger.Logger) (*sdkmetric.MeterProvider, error) {
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

	var readerOpts []sdkmetric.PeriodicReaderOption
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(newResource(config.ServiceName, config.ServiceVersion)),
	)
	otel.SetMeterProvider(mp)

	log.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))
	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Table outcome kinds recorded by RecordTables.
const (
	KindRestored  = "restored"
	KindTruncated = "truncated"
	KindEmptied   = "emptied"
	KindDropped   = "dropped"
)

// Metrics holds the instruments recorded by the reset engines.
type Metrics struct {
	resetTotal    metric.Int64Counter
	resetDuration metric.Float64Histogram
	tablesTotal   metric.Int64Counter
	errorTotal    metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	resetTotal, err := meter.Int64Counter("resetkit.reset.total",
		metric.WithDescription("Total number of reset invocations"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resetkit.reset.total counter: %w", err)
	}

	resetDuration, err := meter.Float64Histogram("resetkit.reset.duration",
		metric.WithDescription("Duration of reset invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resetkit.reset.duration histogram: %w", err)
	}

	tablesTotal, err := meter.Int64Counter("resetkit.tables.total",
		metric.WithDescription("Tables touched by resets, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resetkit.tables.total counter: %w", err)
	}

	errorTotal, err := meter.Int64Counter("resetkit.error.total",
		metric.WithDescription("Failed operations by component and code"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resetkit.error.total counter: %w", err)
	}

	return &Metrics{
		resetTotal:    resetTotal,
		resetDuration: resetDuration,
		tablesTotal:   tablesTotal,
		errorTotal:    errorTotal,
	}, nil
}

// RecordReset records one reset of the named engine.
func (m *Metrics) RecordReset(ctx context.Context, engine string, performed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.resetTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.Bool("performed", performed),
	))
	m.resetDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("engine", engine),
	))
}

// RecordTables adds n tables with the given outcome kind.
func (m *Metrics) RecordTables(ctx context.Context, kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.tablesTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordError records a failed operation.
func (m *Metrics) RecordError(ctx context.Context, component, code string) {
	if m == nil {
		return
	}
	m.errorTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", component),
		attribute.String("code", code),
	))
}
