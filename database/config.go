package database

import (
	"fmt"

	"github.com/kbukum/resetkit/validation"
)

// Supported driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config holds database connection configuration.
type Config struct {
	// Driver selects the GORM dialector: sqlite, postgres or mysql.
	Driver string `mapstructure:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `mapstructure:"dsn"`

	// Prefix is prepended to every table name owned by the installation.
	Prefix string `mapstructure:"prefix"`

	// MaxOpenConns sets the maximum number of open connections to the database.
	// SQLite connections are always capped at one.
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// MaxIdleConns sets the maximum number of idle connections in the pool.
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// ConnMaxLifetime is the maximum time a connection may be reused (e.g. "1h", "30m").
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`

	// MaxRetries is the number of connection attempts before giving up.
	MaxRetries int `mapstructure:"max_retries"`

	// SlowQueryThreshold is the duration above which queries are logged as slow (e.g. "200ms").
	SlowQueryThreshold string `mapstructure:"slow_query_threshold"`

	// LogLevel controls the GORM trace level: silent, error, warn or info.
	LogLevel string `mapstructure:"log_level"`
}

// ApplyDefaults sets sensible defaults for zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == "" {
		c.ConnMaxLifetime = "1h"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.SlowQueryThreshold == "" {
		c.SlowQueryThreshold = "200ms"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
}

// Validate checks the driver, the DSN and every duration field. All
// problems are reported at once as an INVALID_CONFIG error.
func (c *Config) Validate() error {
	v := validation.New()
	v.Required("driver", c.Driver).
		OneOf("driver", c.Driver, []string{DriverSQLite, DriverPostgres, DriverMySQL}).
		Required("dsn", c.DSN).
		Custom(c.MaxIdleConns <= c.MaxOpenConns, "max_idle_conns",
			fmt.Sprintf("must be <= max_open_conns (%d)", c.MaxOpenConns)).
		Duration("conn_max_lifetime", c.ConnMaxLifetime).
		Duration("slow_query_threshold", c.SlowQueryThreshold).
		Min("max_retries", int64(c.MaxRetries), 1).
		OneOf("log_level", c.LogLevel, []string{"silent", "error", "warn", "info"})
	return v.Err()
}
