package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/redis"
)

// Store is one cache backend.
type Store interface {
	// PurgeAll removes every cached entry.
	PurgeAll(ctx context.Context) error
	// Reset rebuilds whatever layout the store needs before first use.
	Reset(ctx context.Context) error
}

// Redis caches in a Redis keyspace below a fixed prefix.
type Redis struct {
	client *redis.Client
	prefix string
	log    *logger.Logger
}

// DefaultRedisPrefix is the keyspace used when none is configured.
const DefaultRedisPrefix = "cache:"

// NewRedis creates a store for the keys client.Key(prefix)*. An empty
// prefix selects DefaultRedisPrefix.
func NewRedis(client *redis.Client, prefix string, log *logger.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, log: log.WithComponent("cache")}
}

// Key returns the full Redis key of a cache entry.
func (r *Redis) Key(name string) string {
	return r.client.Key(r.prefix + name)
}

// PurgeAll deletes the keyspace.
func (r *Redis) PurgeAll(ctx context.Context) error {
	n, err := r.client.DeleteByPrefix(ctx, r.client.Key(r.prefix))
	if err != nil {
		return err
	}
	r.log.Debug("redis cache purged", logger.Fields(logger.FieldCount, n))
	return nil
}

// Reset checks the server is reachable; Redis needs no layout.
func (r *Redis) Reset(ctx context.Context) error {
	return r.client.Ping(ctx)
}

// Default directory layout below the dataroot.
var (
	DefaultDirs    = []string{"cache", "localcache"}
	DefaultSubdirs = []string{"cache/cachestore_file", "localcache/cachestore_file"}
)

// Dir caches in directories below the dataroot.
type Dir struct {
	fs       afero.Fs
	dataroot string
	dirs     []string
	subdirs  []string
	perm     os.FileMode
}

// NewDir creates a store for the default cache directories.
func NewDir(fs afero.Fs, dataroot string, perm os.FileMode) *Dir {
	return &Dir{
		fs:       fs,
		dataroot: dataroot,
		dirs:     DefaultDirs,
		subdirs:  DefaultSubdirs,
		perm:     perm,
	}
}

// PurgeAll empties the cache directories, keeping the directories.
func (d *Dir) PurgeAll(context.Context) error {
	for _, dir := range d.dirs {
		full := filepath.Join(d.dataroot, filepath.FromSlash(dir))
		entries, err := afero.ReadDir(d.fs, full)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return apperrors.Filesystem("read dir", full, err)
		}
		for _, e := range entries {
			p := filepath.Join(full, e.Name())
			if err := d.fs.RemoveAll(p); err != nil {
				return apperrors.Filesystem("remove", p, err)
			}
		}
	}
	return nil
}

// Reset creates the cache directories and their store subdirectories.
func (d *Dir) Reset(context.Context) error {
	for _, dir := range append(append([]string{}, d.dirs...), d.subdirs...) {
		full := filepath.Join(d.dataroot, filepath.FromSlash(dir))
		if err := d.fs.MkdirAll(full, d.perm); err != nil {
			return apperrors.Filesystem("mkdir", full, err)
		}
	}
	return nil
}

// Multi runs every operation on each store in order and joins the errors.
type Multi []Store

// PurgeAll purges every store.
func (m Multi) PurgeAll(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.PurgeAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset resets every store.
func (m Multi) Reset(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Reset(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
