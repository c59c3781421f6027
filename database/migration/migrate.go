// Package migration installs a fresh database from versioned SQL files
// using golang-migrate. It is the installation step that runs before the
// first snapshot capture.
//
// Migration files follow golang-migrate naming: VERSION_name.up.sql and
// VERSION_name.down.sql.
//
//	//go:embed migrations/*.sql
//	var migrationsFS embed.FS
//
//	inst := migration.NewInstaller(db, migrationsFS, "migrations", log)
//	err := inst.Install(ctx)
//
// SQLite databases get a driver automatically. Other engines need one:
//
//	import migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
//
//	inst.WithDriver(func(db *sql.DB) (migratedb.Driver, error) {
//	    return migratepg.WithInstance(db, &migratepg.Config{})
//	})
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/logger"
)

// DriverFunc creates a migrate database driver from sql.DB.
type DriverFunc func(*sql.DB) (migratedb.Driver, error)

// Installer applies SQL migrations to a database.
type Installer struct {
	db     *database.DB
	source fs.FS
	path   string
	driver DriverFunc
	log    *logger.Logger
}

// NewInstaller creates an installer reading migrations from path inside source.
func NewInstaller(db *database.DB, source fs.FS, path string, log *logger.Logger) *Installer {
	return &Installer{
		db:     db,
		source: source,
		path:   path,
		log:    log.WithComponent("migration"),
	}
}

// WithDriver overrides the migrate database driver.
func (i *Installer) WithDriver(fn DriverFunc) *Installer {
	i.driver = fn
	return i
}

// Install runs all pending up migrations. No pending migrations is not an error.
func (i *Installer) Install(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := i.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("migrate version: %w", err)
	}
	i.log.Info("Database installed", map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

// Version returns the current migration version and dirty flag.
func (i *Installer) Version() (uint, bool, error) {
	m, err := i.migrator()
	if err != nil {
		return 0, false, err
	}
	return m.Version()
}

// migrator creates a golang-migrate instance. Callers must NOT call
// m.Close(): it would close the shared sql.DB.
func (i *Installer) migrator() (*migrate.Migrate, error) {
	sqlDB, err := i.db.GormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	driverFn := i.driver
	if driverFn == nil {
		if i.db.Family() != database.FamilySQLite {
			return nil, fmt.Errorf("no migration driver for %s databases, use WithDriver", i.db.Family())
		}
		driverFn = func(db *sql.DB) (migratedb.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{})
		}
	}

	driver, err := driverFn(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("create database driver: %w", err)
	}

	source, err := iofs.New(i.source, i.path)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "database", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}
