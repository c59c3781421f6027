package datastore

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
)

// Well-known names below the dataroot.
const (
	ManifestFile = "originaldatafiles.json"
	FileDir      = "filedir"
)

// ScratchDirs are recreated after every purge.
var ScratchDirs = []string{"temp", "temp/backup", "cache", "localcache"}

// DefaultSkipOnDrop lists framework directory entries Drop keeps.
var DefaultSkipOnDrop = []string{"lock"}

// Cache is the cache subsystem purged along with the dataroot.
type Cache interface {
	// PurgeAll empties every cache store.
	PurgeAll(ctx context.Context) error
	// Reset rebuilds the directory layout the cache stores expect.
	Reset(ctx context.Context) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithDirPermissions sets the mode of recreated scratch directories.
func WithDirPermissions(perm os.FileMode) Option {
	return func(e *Engine) { e.dirPerm = perm }
}

// WithSkipOnReset adds dataroot entries Purge never deletes.
func WithSkipOnReset(names ...string) Option {
	return func(e *Engine) { e.skipOnReset = append(e.skipOnReset, names...) }
}

// WithSkipOnDrop replaces the framework directory entries Drop keeps.
func WithSkipOnDrop(names ...string) Option {
	return func(e *Engine) { e.skipOnDrop = names }
}

// WithMetrics records purges on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine purges and drops the dataroot of one test installation.
type Engine struct {
	fs          afero.Fs
	dataroot    string
	framework   string
	cache       Cache
	dirPerm     os.FileMode
	skipOnReset []string
	skipOnDrop  []string
	metrics     *observability.Metrics
	log         *logger.Logger
}

// New creates an engine for dataroot. cache may be nil.
func New(fs afero.Fs, dataroot, framework string, cache Cache, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		fs:        fs,
		dataroot:  dataroot,
		framework: framework,
		cache:     cache,
		dirPerm:   0o777,
		skipOnReset: []string{
			framework + "testdir.txt",
			framework,
			".htaccess",
		},
		skipOnDrop: DefaultSkipOnDrop,
		log:        log.WithComponent("datastore"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ManifestPath returns the path of the preserved manifest.
func (e *Engine) ManifestPath() string {
	return filepath.Join(e.dataroot, ManifestFile)
}

// PreservedManifest returns the paths listed in the manifest, relative to
// the dataroot with forward slashes. A missing manifest yields nil.
func (e *Engine) PreservedManifest() ([]string, error) {
	raw, err := afero.ReadFile(e.fs, e.ManifestPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Filesystem("read", e.ManifestPath(), err)
	}
	var paths []string
	if err := json.Unmarshal(raw, &paths); err != nil {
		return nil, apperrors.Filesystem("decode", e.ManifestPath(), err)
	}
	return paths, nil
}

// SaveManifest lists every directory and file below filedir and writes the
// manifest. An existing manifest is never overwritten; saved reports
// whether this call wrote it.
func (e *Engine) SaveManifest(ctx context.Context) (saved bool, err error) {
	_, span := observability.StartSpan(ctx, observability.SpanSaveManifest)
	defer func() { observability.EndSpan(span, err) }()

	exists, err := afero.Exists(e.fs, e.ManifestPath())
	if err != nil {
		return false, apperrors.Filesystem("stat", e.ManifestPath(), err)
	}
	if exists {
		return false, nil
	}

	paths := []string{FileDir + "/.", FileDir + "/.."}
	seen := map[string]bool{paths[0]: true, paths[1]: true}
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}

	root := filepath.Join(e.dataroot, FileDir)
	if ok, _ := afero.DirExists(e.fs, root); ok {
		err := afero.Walk(e.fs, root, func(p string, _ os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(e.dataroot, p)
			if err != nil {
				return err
			}
			add(filepath.ToSlash(rel))
			return nil
		})
		if err != nil {
			return false, apperrors.Filesystem("walk", root, err)
		}
	}

	data, err := json.Marshal(paths)
	if err != nil {
		return false, apperrors.Internal(err)
	}
	if err := afero.WriteFile(e.fs, e.ManifestPath(), data, 0o666); err != nil {
		return false, apperrors.Filesystem("write", e.ManifestPath(), err)
	}
	e.log.Info("preserved manifest saved", logger.Fields(
		logger.FieldPath, e.ManifestPath(),
		logger.FieldCount, len(paths),
	))
	return true, nil
}

// Purge deletes every dataroot and filedir entry not on the skip list,
// recreates the scratch directories and purges the cache.
func (e *Engine) Purge(ctx context.Context) (err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanPurge)
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			e.metrics.RecordError(ctx, "datastore", string(apperrors.CodeOf(err)))
			return
		}
		e.metrics.RecordReset(ctx, "datastore", true, time.Since(start))
	}()

	manifest, err := e.PreservedManifest()
	if err != nil {
		return err
	}
	skip := make(map[string]bool, len(e.skipOnReset)+len(manifest)+1)
	for _, s := range e.skipOnReset {
		skip[s] = true
	}
	for _, s := range manifest {
		skip[s] = true
	}
	skip[ManifestFile] = true

	removed, err := e.removeEntries(e.dataroot, "", skip)
	if err != nil {
		return err
	}
	filedir := filepath.Join(e.dataroot, FileDir)
	if ok, _ := afero.DirExists(e.fs, filedir); ok {
		n, err := e.removeEntries(filedir, FileDir, skip)
		if err != nil {
			return err
		}
		removed += n
	}

	for _, dir := range ScratchDirs {
		if err := e.makeDir(filepath.Join(e.dataroot, filepath.FromSlash(dir))); err != nil {
			return err
		}
	}

	if e.cache != nil {
		if err := e.cache.PurgeAll(ctx); err != nil {
			return err
		}
		if err := e.cache.Reset(ctx); err != nil {
			return err
		}
	}

	span.SetAttributes(attribute.Int("resetkit.removed", removed))
	e.log.Debug("dataroot purged", logger.Fields(logger.FieldCount, removed))
	return nil
}

// removeEntries deletes the entries of dir whose name, joined to prefix,
// is not in skip. It returns how many entries were removed.
func (e *Engine) removeEntries(dir, prefix string, skip map[string]bool) (int, error) {
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return 0, apperrors.Filesystem("read dir", dir, err)
	}
	removed := 0
	for _, entry := range entries {
		key := entry.Name()
		if prefix != "" {
			key = path.Join(prefix, key)
		}
		if skip[key] {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := e.fs.RemoveAll(p); err != nil {
			return removed, apperrors.Filesystem("remove", p, err)
		}
		removed++
	}
	return removed, nil
}

func (e *Engine) makeDir(dir string) error {
	if err := e.fs.MkdirAll(dir, e.dirPerm); err != nil {
		return apperrors.Filesystem("mkdir", dir, err)
	}
	if err := e.fs.Chmod(dir, e.dirPerm); err != nil {
		return apperrors.Filesystem("chmod", dir, err)
	}
	return nil
}

// Drop deletes the framework directory's entries except the drop skip
// list. When a manifest exists, the manifest and the whole filedir go too.
func (e *Engine) Drop(ctx context.Context) (err error) {
	_, span := observability.StartSpan(ctx, observability.SpanDrop)
	defer func() { observability.EndSpan(span, err) }()

	dir := filepath.Join(e.dataroot, e.framework)
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Filesystem("read dir", dir, err)
	}
	for _, entry := range entries {
		if slices.Contains(e.skipOnDrop, entry.Name()) {
			continue
		}
		p := filepath.Join(dir, entry.Name())
		if err := e.fs.RemoveAll(p); err != nil {
			return apperrors.Filesystem("remove", p, err)
		}
	}

	exists, err := afero.Exists(e.fs, e.ManifestPath())
	if err != nil {
		return apperrors.Filesystem("stat", e.ManifestPath(), err)
	}
	if exists {
		if err := e.fs.Remove(e.ManifestPath()); err != nil {
			return apperrors.Filesystem("remove", e.ManifestPath(), err)
		}
		filedir := filepath.Join(e.dataroot, FileDir)
		if err := e.fs.RemoveAll(filedir); err != nil {
			return apperrors.Filesystem("remove", filedir, err)
		}
	}
	e.log.Info("dataroot dropped", logger.Fields(logger.FieldPath, dir))
	return nil
}
