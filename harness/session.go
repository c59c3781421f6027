package harness

import (
	"context"
	"errors"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/kbukum/resetkit/cache"
	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/datastore"
	"github.com/kbukum/resetkit/dirty"
	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
	"github.com/kbukum/resetkit/redis"
	"github.com/kbukum/resetkit/reset"
	"github.com/kbukum/resetkit/sequence"
	"github.com/kbukum/resetkit/siteinfo"
	"github.com/kbukum/resetkit/snapshot"
	"github.com/kbukum/resetkit/version"
)

const markerContent = "Contents of this directory are used during tests only, do not delete this file!"

// Database is the connection a session works on.
type Database interface {
	database.Conn
	dirty.WriteNotifier
}

// Installer populates an empty database, for example migration.Installer.
type Installer interface {
	Install(ctx context.Context) error
}

// Deps are the resources a session is built on. Redis and Fingerprinter
// are optional.
type Deps struct {
	FS            afero.Fs
	DB            Database
	Redis         *redis.Client
	Fingerprinter snapshot.Fingerprinter
}

// Report is the outcome of one Reset.
type Report struct {
	// Stale is set when the snapshot no longer matches the codebase; nothing
	// was reset and Init must run again.
	Stale    bool
	Database reset.Result
}

// Session holds the reset state of one test run.
type Session struct {
	ID string

	cfg       Config
	fs        afero.Fs
	db        Database
	store     *snapshot.Store
	tracker   *dirty.Tracker
	alloc     *sequence.Allocator
	metrics   *observability.Metrics
	dbReset   *reset.Engine
	dataReset *datastore.Engine
	reporter  *siteinfo.Reporter
	log       *logger.Logger
	closers   []func(context.Context) error
}

// Open connects to the configured database and Redis, installs the
// configured telemetry providers and creates a session on the OS
// filesystem. Close releases all of it. A nil log is built from
// cfg.Logging.
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = cfg.Logger()
	}

	var closers []func(context.Context) error
	fail := func(err error) (*Session, error) {
		for _, c := range slices.Backward(closers) {
			_ = c(ctx)
		}
		return nil, err
	}

	shutdown, err := observability.Setup(ctx, cfg.Observability, version.Build().Version, log)
	if err != nil {
		return nil, err
	}
	closers = append(closers, shutdown)

	db, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func(context.Context) error { return db.Close() })

	deps := Deps{FS: afero.NewOsFs(), DB: db}
	if cfg.Redis.Enabled {
		rc, err := redis.New(cfg.Redis, log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return rc.Close() })
		deps.Redis = rc
	}

	s, err := New(cfg, deps, log)
	if err != nil {
		return fail(err)
	}
	s.closers = closers
	return s, nil
}

// New creates a session on existing resources. Closing the session does
// not close them.
func New(cfg Config, deps Deps, log *logger.Logger) (*Session, error) {
	cfg.ApplyDefaults()
	if cfg.Mailbox == MailboxRedis && deps.Redis == nil {
		return nil, apperrors.InvalidConfig("mailbox", "the redis mailbox needs a redis client")
	}

	id := uuid.NewString()
	log = log.WithFields(logger.Fields(logger.FieldSessionID, id))

	fp := deps.Fingerprinter
	if fp == nil {
		fp = version.NewFingerprinter(deps.FS, cfg.SourceRoot, cfg.VersionMarker)
	}
	metrics, err := observability.NewMetrics(observability.Meter("github.com/kbukum/resetkit"))
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	var mailbox dirty.Mailbox
	switch cfg.Mailbox {
	case MailboxRedis:
		mailbox = dirty.NewRedisMailbox(deps.Redis, cfg.Framework+":dirty")
	default:
		mailbox = dirty.NewFileMailbox(deps.FS, filepath.Join(cfg.Dataroot, cfg.Framework, dirty.MailboxFile))
	}
	tracker := dirty.New(log, dirty.WithMailbox(mailbox), dirty.WithShared(cfg.ScenarioRunning))
	tracker.Attach(deps.DB)

	stores := cache.Multi{cache.NewDir(deps.FS, cfg.Dataroot, cfg.DirPermissions)}
	if deps.Redis != nil {
		stores = append(stores, cache.NewRedis(deps.Redis, cfg.CachePrefix, log))
	}
	dsOpts := []datastore.Option{
		datastore.WithDirPermissions(cfg.DirPermissions),
		datastore.WithSkipOnReset(cfg.SkipOnReset...),
		datastore.WithMetrics(metrics),
	}
	if cfg.SkipOnDrop != nil {
		dsOpts = append(dsOpts, datastore.WithSkipOnDrop(cfg.SkipOnDrop...))
	}

	s := &Session{
		ID:        id,
		cfg:       cfg,
		fs:        deps.FS,
		db:        deps.DB,
		store:     snapshot.NewStore(deps.FS, cfg.Dataroot, cfg.Framework, deps.DB, fp, log),
		tracker:   tracker,
		alloc:     sequence.New(cfg.SequenceStart, cfg.SequenceBlock),
		metrics:   metrics,
		dataReset: datastore.New(deps.FS, cfg.Dataroot, cfg.Framework, stores, log, dsOpts...),
		reporter:  siteinfo.New(cfg.Product, deps.FS, cfg.SourceRoot, cfg.VersionMarker, deps.DB, log),
		log:       log.WithComponent("harness"),
	}
	s.dbReset = s.newResetEngine()
	return s, nil
}

func (s *Session) newResetEngine() *reset.Engine {
	return reset.New(s.db, s.store, s.tracker, s.alloc, s.log, reset.WithMetrics(s.metrics))
}

// Tracker returns the dirty table tracker of the session.
func (s *Session) Tracker() *dirty.Tracker { return s.tracker }

// Config returns the configuration the session was built from.
func (s *Session) Config() Config { return s.cfg }

func (s *Session) markerPath() string {
	return filepath.Join(s.cfg.Dataroot, s.cfg.Framework+"testdir.txt")
}

// IsTestSite reports whether the dataroot carries the test marker and the
// database, unless it is empty, carries the fingerprint key.
func (s *Session) IsTestSite(ctx context.Context) (bool, error) {
	ok, err := afero.Exists(s.fs, s.markerPath())
	if err != nil {
		return false, apperrors.Filesystem("stat", s.markerPath(), err)
	}
	if !ok {
		return false, nil
	}
	tables, err := s.db.Tables(ctx)
	if err != nil {
		return false, err
	}
	if len(tables) == 0 {
		return true, nil
	}
	if !slices.Contains(tables, database.ConfigTable) {
		return false, nil
	}
	_, ok, err = s.db.ConfigValue(ctx, s.store.ConfigKey(), true)
	return ok, err
}

func (s *Session) requireTestSite(ctx context.Context) error {
	ok, err := s.IsTestSite(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotTestSite(s.cfg.Dataroot + " has no " + s.cfg.Framework + " test marker or fingerprint")
	}
	return nil
}

// Init prepares the installation for testing. With an installer, an
// existing test site is dropped and the database reinstalled; without
// one, the current database is captured as it is. Init then writes the
// dataroot marker, captures the snapshot, saves the preserved manifest and
// empties the mailbox.
func (s *Session) Init(ctx context.Context, inst Installer) error {
	ctx = logger.ContextWithSession(ctx, s.ID)
	log := s.log.WithContext(ctx)

	tables, err := s.db.Tables(ctx)
	if err != nil {
		return err
	}
	if len(tables) > 0 {
		if err := s.requireTestSite(ctx); err != nil {
			return err
		}
		if inst != nil {
			if err := s.Drop(ctx); err != nil {
				return err
			}
		}
	}
	if inst != nil {
		if err := inst.Install(ctx); err != nil {
			return err
		}
	}
	if installed, err := s.db.TableExists(ctx, database.ConfigTable); err != nil {
		return err
	} else if !installed {
		return apperrors.NotInitialized("database")
	}

	if err := s.fs.MkdirAll(s.cfg.Dataroot, s.cfg.DirPermissions); err != nil {
		return apperrors.Filesystem("mkdir", s.cfg.Dataroot, err)
	}
	if err := afero.WriteFile(s.fs, s.markerPath(), []byte(markerContent), 0o666); err != nil {
		return apperrors.Filesystem("write", s.markerPath(), err)
	}
	if err := s.store.Capture(ctx); err != nil {
		return err
	}
	if _, err := s.dataReset.SaveManifest(ctx); err != nil {
		return err
	}
	if err := s.tracker.CleanMailbox(ctx); err != nil {
		return err
	}
	s.dbReset = s.newResetEngine()

	log.Info("test site initialized", logger.Fields(logger.FieldPath, s.cfg.Dataroot))
	return nil
}

// Reset restores the database and purges the dataroot. A stale snapshot
// is reported in the Report and leaves everything untouched.
func (s *Session) Reset(ctx context.Context) (Report, error) {
	ctx = logger.ContextWithSession(ctx, s.ID)
	if err := s.requireTestSite(ctx); err != nil {
		return Report{}, err
	}
	stale, err := s.store.IsStale(ctx)
	if err != nil {
		return Report{}, err
	}
	if stale {
		s.log.WithContext(ctx).Warn("snapshot is stale, run init again")
		return Report{Stale: true}, nil
	}

	res, err := s.dbReset.Reset(ctx)
	if err != nil {
		return Report{Database: res}, err
	}
	if err := s.dataReset.Purge(ctx); err != nil {
		return Report{Database: res}, err
	}
	return Report{Database: res}, nil
}

// Drop removes the test installation: the framework directory, the
// preserved file store and every table. The dataroot marker stays.
func (s *Session) Drop(ctx context.Context) error {
	ctx = logger.ContextWithSession(ctx, s.ID)
	if err := s.requireTestSite(ctx); err != nil {
		return err
	}
	if err := s.dataReset.Drop(ctx); err != nil {
		return err
	}
	if _, err := s.dbReset.DropAll(ctx); err != nil {
		return err
	}
	s.store.Invalidate()
	return s.tracker.CleanMailbox(ctx)
}

// IsStale reports whether Init must run again.
func (s *Session) IsStale(ctx context.Context) (bool, error) {
	return s.store.IsStale(ctx)
}

// SiteInfo returns the environment summary printed before a run.
func (s *Session) SiteInfo(ctx context.Context) (string, error) {
	return s.reporter.Info(ctx)
}

// CleanMailbox forgets every dirty table, shared ones included. Call it
// only while the database matches the snapshot.
func (s *Session) CleanMailbox(ctx context.Context) error {
	return s.tracker.CleanMailbox(ctx)
}

// Close releases what Open acquired, in reverse order.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	for _, c := range slices.Backward(s.closers) {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

var _ Database = (*database.DB)(nil)
