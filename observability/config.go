package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/validation"
)

// Config selects whether spans and metrics are exported, and where to.
type Config struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	Endpoint       string  `mapstructure:"endpoint"`
	Insecure       bool    `mapstructure:"insecure"`
	SampleRate     float64 `mapstructure:"sample_rate"`
	MetricInterval string  `mapstructure:"metric_interval"`
}

// ApplyDefaults fills zero-valued fields. Metrics go to a local OTLP
// collector every 15s unless configured otherwise.
func (c *Config) ApplyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "resetkit"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 1.0
	}
	if c.MetricInterval == "" {
		c.MetricInterval = "15s"
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	v := validation.New()
	v.Required("endpoint", c.Endpoint).
		Custom(c.SampleRate >= 0 && c.SampleRate <= 1, "sample_rate", fmt.Sprintf("must be within [0, 1], got %v", c.SampleRate)).
		Required("metric_interval", c.MetricInterval).
		Duration("metric_interval", c.MetricInterval)
	return v.Err()
}

// Setup installs tracer and meter providers when cfg is enabled and returns
// a function that flushes and shuts both down. A disabled config installs
// nothing and returns a no-op shutdown.
func Setup(ctx context.Context, cfg Config, version string, log *logger.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	interval, _ := time.ParseDuration(cfg.MetricInterval)

	tp, err := InitTracer(ctx, TracerConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		SampleRate:     cfg.SampleRate,
	}, log)
	if err != nil {
		return nil, err
	}
	mp, err := InitMeter(ctx, MeterConfig{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Endpoint,
		Insecure:       cfg.Insecure,
		Interval:       interval,
	}, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
