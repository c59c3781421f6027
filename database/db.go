package database

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/resilience"
)

// DB wraps a GORM database and implements Conn.
type DB struct {
	GormDB *gorm.DB
	log    *logger.Logger
	cfg    Config
	family Family

	writeTarget *regexp.Regexp

	obsMu     sync.RWMutex
	observers []func(table string)

	cacheMu     sync.Mutex
	configCache map[string]string

	closed bool
	mu     sync.Mutex
}

var _ Conn = (*DB)(nil)

// Dialector builds the GORM dialector for a driver name.
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Open validates cfg and connects using the configured driver.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return NewWithContext(ctx, dialector, cfg, log)
}

// NewWithContext creates a database connection with context-aware retry logic.
// Only connection errors are retried.
func NewWithContext(ctx context.Context, dialector gorm.Dialector, cfg Config, log *logger.Logger) (*DB, error) {
	cfg.ApplyDefaults()
	log = log.WithComponent("database")

	slowThreshold, _ := time.ParseDuration(cfg.SlowQueryThreshold)
	writeTarget := writeTargetPattern(cfg.Prefix)
	gormCfg := &gorm.Config{
		Logger: newQueryLogger(log, slowThreshold, parseLogLevel(cfg.LogLevel), writeTarget),
	}
	family := familyOf(dialector.Name())

	policy := resilience.Policy{
		Attempts: cfg.MaxRetries,
		Backoff:  resilience.Linear(time.Second),
		RetryIf:  IsConnectionError,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.Warn("Database connection attempt failed, retrying", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
				"backoff": wait.String(),
			})
		},
	}
	db, err := resilience.Retry(ctx, policy, func(attempt int) (*gorm.DB, error) {
		db, err := gorm.Open(dialector, gormCfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		log.Info("Database connection established", map[string]interface{}{
			logger.FieldFamily: string(family),
			"attempt":          attempt,
		})
		return db, nil
	})
	if ctx.Err() != nil {
		return nil, fmt.Errorf("database connection canceled: %w", ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, _ := db.DB()
	if family == FamilySQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if lifetime, parseErr := time.ParseDuration(cfg.ConnMaxLifetime); parseErr == nil {
		sqlDB.SetConnMaxLifetime(lifetime)
	}

	d := &DB{
		GormDB:      db,
		log:         log,
		cfg:         cfg,
		family:      family,
		writeTarget: writeTarget,
		configCache: make(map[string]string),
	}
	if err := d.registerWriteCallbacks(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("register write callbacks: %w", err)
	}
	return d, nil
}

func familyOf(dialect string) Family {
	switch dialect {
	case "postgres":
		return FamilyPostgres
	case "mysql":
		return FamilyMySQL
	case "sqlite", "sqlite3":
		return FamilySQLite
	case "sqlserver":
		return FamilyMSSQL
	default:
		return FamilyOther
	}
}

// Family returns the engine family.
func (d *DB) Family() Family { return d.family }

// Prefix returns the table name prefix.
func (d *DB) Prefix() string { return d.cfg.Prefix }

// Close closes the underlying sql.DB connection pool. Safe to call multiple times.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}

	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	d.log.Debug("Closing database connection")
	d.closed = true
	return sqlDB.Close()
}

// PingContext verifies the database connection is alive, respecting the context.
func (d *DB) PingContext(ctx context.Context) error {
	sqlDB, err := d.GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// WithContext returns a GORM session scoped to the given context.
func (d *DB) WithContext(ctx context.Context) *gorm.DB {
	return d.GormDB.WithContext(ctx)
}

// FullName returns the prefixed table name.
func (d *DB) FullName(table string) string {
	return d.cfg.Prefix + table
}

func (d *DB) quote(name string) string {
	var b strings.Builder
	d.GormDB.Dialector.QuoteTo(&b, name)
	return b.String()
}

func (d *DB) quoteTable(table string) string {
	return d.quote(d.FullName(table))
}
