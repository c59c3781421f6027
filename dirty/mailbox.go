package dirty

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/redis"
)

// MailboxFile is the file name of the shared dirty table list.
const MailboxFile = "tablesupdatedbyscenario.json"

// ErrMalformed is returned by Collect when the mailbox exists but cannot
// be decoded.
var ErrMalformed = errors.New("malformed dirty table mailbox")

// Mailbox carries dirty table names between processes.
type Mailbox interface {
	// Post adds table names to the mailbox.
	Post(ctx context.Context, tables ...string) error
	// Collect returns the names currently in the mailbox. A missing mailbox
	// yields no names and no error.
	Collect(ctx context.Context) ([]string, error)
	// Remove deletes what Collect returned. Removing a missing mailbox is
	// not an error.
	Remove(ctx context.Context) error
	// Clear deletes every pending name, collected or not.
	Clear(ctx context.Context) error
}

// FileMailbox stores the names as the keys of a JSON object in one file.
// Posting is a read-modify-write without locking.
type FileMailbox struct {
	fs   afero.Fs
	path string
}

var _ Mailbox = (*FileMailbox)(nil)

// NewFileMailbox creates a mailbox backed by the file at path.
func NewFileMailbox(fs afero.Fs, path string) *FileMailbox {
	return &FileMailbox{fs: fs, path: path}
}

// Path returns the mailbox file path.
func (m *FileMailbox) Path() string { return m.path }

func (m *FileMailbox) read() (map[string]bool, error) {
	data, err := afero.ReadFile(m.fs, m.path)
	if err != nil {
		return nil, err
	}
	var tables map[string]bool
	if err := json.Unmarshal(data, &tables); err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}
	return tables, nil
}

// Post merges tables into the file. An unreadable or malformed file is
// replaced.
func (m *FileMailbox) Post(_ context.Context, tables ...string) error {
	current, err := m.read()
	if err != nil || current == nil {
		current = make(map[string]bool)
	}
	changed := false
	for _, t := range tables {
		if !current[t] {
			current[t] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	data, err := json.MarshalIndent(current, "", "    ")
	if err != nil {
		return err
	}
	if err := m.fs.MkdirAll(filepath.Dir(m.path), 0o777); err != nil {
		return apperrors.Filesystem("mkdir", filepath.Dir(m.path), err)
	}
	if err := afero.WriteFile(m.fs, m.path, data, 0o666); err != nil {
		return apperrors.Filesystem("write", m.path, err)
	}
	return nil
}

// Collect reads the table names from the file.
func (m *FileMailbox) Collect(_ context.Context) ([]string, error) {
	current, err := m.read()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		if errors.Is(err, ErrMalformed) {
			return nil, err
		}
		return nil, apperrors.Filesystem("read", m.path, err)
	}
	tables := make([]string, 0, len(current))
	for t := range current {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}

// Remove deletes the file.
func (m *FileMailbox) Remove(_ context.Context) error {
	if err := m.fs.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Filesystem("remove", m.path, err)
	}
	return nil
}

// Clear deletes the file.
func (m *FileMailbox) Clear(ctx context.Context) error {
	return m.Remove(ctx)
}

// RedisMailbox stores the names in a Redis set. Collect moves the set into
// a drain key atomically, so names posted while a reset runs survive for
// the next one.
type RedisMailbox struct {
	client *redis.Client
	key    string
	drain  string
}

var _ Mailbox = (*RedisMailbox)(nil)

// NewRedisMailbox creates a mailbox on the set named name under the
// client's key prefix.
func NewRedisMailbox(client *redis.Client, name string) *RedisMailbox {
	return &RedisMailbox{
		client: client,
		key:    client.Key(name),
		drain:  client.Key(name + ":drain"),
	}
}

// Post adds tables to the set.
func (m *RedisMailbox) Post(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	return m.client.SAdd(ctx, m.key, tables...)
}

// Collect drains the set and returns its members, sorted.
func (m *RedisMailbox) Collect(ctx context.Context) ([]string, error) {
	tables, err := m.client.DrainSet(ctx, m.key, m.drain)
	if err != nil {
		return nil, err
	}
	sort.Strings(tables)
	return tables, nil
}

// Remove deletes the drained members.
func (m *RedisMailbox) Remove(ctx context.Context) error {
	return m.client.Del(ctx, m.drain)
}

// Clear deletes the set and any undeleted drain.
func (m *RedisMailbox) Clear(ctx context.Context) error {
	return m.client.Del(ctx, m.key, m.drain)
}
