package dirty

import (
	"context"
	"errors"
	"sort"

	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
	"github.com/kbukum/resetkit/resilience"
)

// WriteNotifier is the write-interception surface of a database connection.
type WriteNotifier interface {
	OnWrite(fn func(table string))
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMailbox sets the shared mailbox absorbed before each reset.
func WithMailbox(mb Mailbox) Option {
	return func(t *Tracker) { t.mailbox = mb }
}

// WithShared makes Mark also post every marked table to the mailbox.
// Set it in the process that writes on behalf of another.
func WithShared(shared bool) Option {
	return func(t *Tracker) { t.shared = shared }
}

// WithPostPolicy sets how failing mailbox posts are retried.
func WithPostPolicy(p resilience.Policy) Option {
	return func(t *Tracker) { t.postPolicy = p }
}

// Tracker is the set of tables written since the last reset.
type Tracker struct {
	tables     map[string]struct{}
	mailbox    Mailbox
	shared     bool
	postPolicy resilience.Policy
	log        *logger.Logger
}

// New creates an empty tracker.
func New(log *logger.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		tables:     make(map[string]struct{}),
		postPolicy: resilience.DefaultPolicy(),
		log:        log.WithComponent("dirty"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Attach registers Mark as the write callback of db.
func (t *Tracker) Attach(db WriteNotifier) {
	db.OnWrite(t.Mark)
}

// Mark flags table as written. Shared trackers post the table on every
// write, not only the first: the reader may have drained the mailbox since
// the last post, and the local set is never cleared in a writer process.
// Posts are retried per the post policy; a post that still fails is
// logged, not returned, because the write that triggered it already
// happened.
func (t *Tracker) Mark(table string) {
	if table == "" {
		return
	}
	t.tables[table] = struct{}{}

	if t.shared && t.mailbox != nil {
		err := resilience.Do(context.Background(), t.postPolicy, func(int) error {
			return t.mailbox.Post(context.Background(), table)
		})
		if err != nil {
			t.log.Warn("failed to post dirty table", logger.Fields(
				logger.FieldTable, table,
				logger.FieldError, err.Error(),
			))
		}
	}
}

// Has reports whether table is marked.
func (t *Tracker) Has(table string) bool {
	_, ok := t.tables[table]
	return ok
}

// Len returns the number of marked tables.
func (t *Tracker) Len() int { return len(t.tables) }

// Tables returns the marked tables, sorted.
func (t *Tracker) Tables() []string {
	out := make([]string, 0, len(t.tables))
	for name := range t.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Set returns a copy of the marked tables as a set.
func (t *Tracker) Set() map[string]bool {
	out := make(map[string]bool, len(t.tables))
	for name := range t.tables {
		out[name] = true
	}
	return out
}

// Clear empties the set.
func (t *Tracker) Clear() {
	t.tables = make(map[string]struct{})
}

// Absorb merges the mailbox into the set, then removes the mailbox. A
// malformed mailbox is logged and left in place. Returns the number of
// tables read from the mailbox.
func (t *Tracker) Absorb(ctx context.Context) (n int, err error) {
	if t.mailbox == nil {
		return 0, nil
	}
	ctx, span := observability.StartSpan(ctx, observability.SpanAbsorbMailbox)
	defer func() { observability.EndSpan(span, err) }()

	tables, err := t.mailbox.Collect(ctx)
	if errors.Is(err, ErrMalformed) {
		t.log.Warn("ignoring malformed dirty table mailbox", logger.Fields(logger.FieldError, err.Error()))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(tables) == 0 {
		return 0, nil
	}

	for _, table := range tables {
		t.tables[table] = struct{}{}
	}
	if err := t.mailbox.Remove(ctx); err != nil {
		return len(tables), err
	}
	t.log.Debug("absorbed dirty tables", logger.Fields(logger.FieldTables, tables))
	return len(tables), nil
}

// CleanMailbox deletes the mailbox and clears the in-process set, so the
// next reset starts from a full pass over every table.
func (t *Tracker) CleanMailbox(ctx context.Context) error {
	t.Clear()
	if t.mailbox == nil {
		return nil
	}
	return t.mailbox.Clear(ctx)
}
