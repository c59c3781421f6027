package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/afero"

	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/redis"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client, err := redis.New(redis.Config{Enabled: true, Addr: mini.Addr()}, logger.NewNop())
	if err != nil {
		t.Fatalf("redis.New() error = %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "", logger.NewNop()), mini
}

func TestRedis_PurgeAll(t *testing.T) {
	store, mini := newRedisStore(t)
	ctx := context.Background()

	_ = mini.Set(store.Key("course:1"), "x")
	_ = mini.Set(store.Key("course:2"), "y")
	_ = mini.Set("resetkit:dirty", "keep")
	_ = mini.Set("other:cache:1", "keep")

	if store.Key("a") != "resetkit:cache:a" {
		t.Errorf("Key() = %q", store.Key("a"))
	}
	if err := store.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll() error = %v", err)
	}
	if mini.Exists(store.Key("course:1")) || mini.Exists(store.Key("course:2")) {
		t.Error("cache keys survived PurgeAll")
	}
	if !mini.Exists("resetkit:dirty") || !mini.Exists("other:cache:1") {
		t.Error("PurgeAll removed keys outside its keyspace")
	}
	if err := store.Reset(ctx); err != nil {
		t.Errorf("Reset() error = %v", err)
	}
}

func TestRedis_ResetUnreachable(t *testing.T) {
	store, mini := newRedisStore(t)
	mini.Close()
	if err := store.Reset(context.Background()); err == nil {
		t.Error("Reset() succeeded against a closed server")
	}
}

func TestDir(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	d := NewDir(fs, "/data", 0o777)

	if err := d.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll() on a missing layout error = %v", err)
	}
	if err := d.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	for _, dir := range []string{"/data/cache/cachestore_file", "/data/localcache/cachestore_file"} {
		if ok, _ := afero.DirExists(fs, dir); !ok {
			t.Errorf("%s missing after Reset", dir)
		}
	}

	_ = afero.WriteFile(fs, "/data/cache/cachestore_file/entry", []byte("x"), 0o666)
	_ = afero.WriteFile(fs, "/data/localcache/lang.php", []byte("x"), 0o666)
	if err := d.PurgeAll(ctx); err != nil {
		t.Fatalf("PurgeAll() error = %v", err)
	}
	for _, dir := range []string{"/data/cache", "/data/localcache"} {
		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			t.Fatalf("%s removed by PurgeAll: %v", dir, err)
		}
		if len(entries) != 0 {
			t.Errorf("%s not empty after PurgeAll", dir)
		}
	}
}

type stubStore struct {
	purged, reset int
	err           error
}

func (s *stubStore) PurgeAll(context.Context) error { s.purged++; return s.err }
func (s *stubStore) Reset(context.Context) error    { s.reset++; return s.err }

func TestMulti(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	a, b := &stubStore{err: boom}, &stubStore{}
	m := Multi{a, b}

	if err := m.PurgeAll(ctx); !errors.Is(err, boom) {
		t.Errorf("PurgeAll() error = %v, want %v", err, boom)
	}
	if err := m.Reset(ctx); !errors.Is(err, boom) {
		t.Errorf("Reset() error = %v, want %v", err, boom)
	}
	if b.purged != 1 || b.reset != 1 {
		t.Error("a failing store stopped the others")
	}
	if err := (Multi{b}).PurgeAll(ctx); err != nil {
		t.Errorf("PurgeAll() error = %v", err)
	}
}
