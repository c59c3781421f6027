package reset

import (
	"context"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kbukum/resetkit/database"
	"github.com/kbukum/resetkit/dirty"
	apperrors "github.com/kbukum/resetkit/errors"
	"github.com/kbukum/resetkit/logger"
	"github.com/kbukum/resetkit/observability"
	"github.com/kbukum/resetkit/sequence"
	"github.com/kbukum/resetkit/snapshot"
)

// Phase is the position of the engine within one reset.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDataLoaded
	PhaseSequencesReset
	PhaseTablesCleaned
)

func (p Phase) String() string {
	switch p {
	case PhaseDataLoaded:
		return "data_loaded"
	case PhaseSequencesReset:
		return "sequences_reset"
	case PhaseTablesCleaned:
		return "tables_cleaned"
	default:
		return "idle"
	}
}

// Snapshot is the captured state a reset restores.
type Snapshot interface {
	Load() (snapshot.TableData, snapshot.TableStructure, bool, error)
}

// Result describes what one reset did. Performed is false when the
// database is not installed or no snapshot exists; nothing was touched.
type Result struct {
	Performed bool
	FirstRun  bool
	Restored  []string
	Truncated []string
	Emptied   []string
	Dropped   []string
	Sequences map[string]int64
}

// Touched returns the number of tables changed by the reset.
func (r Result) Touched() int {
	return len(r.Restored) + len(r.Truncated) + len(r.Emptied) + len(r.Dropped)
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategy overrides the family's default sequence strategy.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithMetrics records resets on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine restores the database of one test session. It is not safe for
// concurrent use.
type Engine struct {
	db       database.Conn
	snap     Snapshot
	tracker  *dirty.Tracker
	alloc    *sequence.Allocator
	strategy Strategy
	metrics  *observability.Metrics
	log      *logger.Logger

	firstRun bool
	phase    Phase
}

// New creates an engine. The first Reset examines every table.
func New(db database.Conn, snap Snapshot, tracker *dirty.Tracker, alloc *sequence.Allocator, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:       db,
		snap:     snap,
		tracker:  tracker,
		alloc:    alloc,
		strategy: StrategyFor(db.Family()),
		log:      log.WithComponent("dbreset"),
		firstRun: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the sequence strategy in use.
func (e *Engine) Strategy() Strategy { return e.strategy }

// FirstRun reports whether no reset has completed yet.
func (e *Engine) FirstRun() bool { return e.firstRun }

// Phase returns the current phase. It is PhaseIdle between resets and
// after a failed one.
func (e *Engine) Phase() Phase { return e.phase }

func (e *Engine) enter(p Phase) {
	e.phase = p
	e.log.Debug("reset phase", logger.Fields(logger.FieldPhase, p.String()))
}

// Reset restores every in-scope table to its snapshot.
func (e *Engine) Reset(ctx context.Context) (res Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, observability.SpanReset,
		attribute.String(observability.AttrFamily, string(e.db.Family())),
		attribute.Bool(observability.AttrFirstRun, e.firstRun))
	defer func() {
		e.phase = PhaseIdle
		span.SetAttributes(
			attribute.Bool(observability.AttrPerformed, res.Performed),
			attribute.Int(observability.AttrRestored, len(res.Restored)),
			attribute.Int(observability.AttrTruncated, len(res.Truncated)),
			attribute.Int(observability.AttrEmptied, len(res.Emptied)),
			attribute.Int(observability.AttrDropped, len(res.Dropped)),
		)
		observability.EndSpan(span, err)
		e.record(ctx, res, err, time.Since(start))
	}()

	live, err := e.db.Tables(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(live) == 0 || !slices.Contains(live, database.ConfigTable) {
		e.log.Debug("database not installed, skipping reset")
		return Result{}, nil
	}

	data, structure, ok, err := e.snap.Load()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		e.log.Debug("no snapshot captured, skipping reset")
		return Result{}, nil
	}
	e.enter(PhaseDataLoaded)

	if _, err := e.tracker.Absorb(ctx); err != nil {
		return Result{}, err
	}
	res = Result{Performed: true, FirstRun: e.firstRun}
	dirtySet := e.tracker.Set()

	var empties map[string]bool
	if e.firstRun && e.strategy.Name() == StrategyGeneric {
		if empties, err = EmptyTables(ctx, e.db); err != nil {
			return res, err
		}
	}
	inScope := func(table string) bool { return e.firstRun || dirtySet[table] }

	for _, t := range data {
		if !inScope(t.Name) {
			continue
		}
		if err := e.restoreTable(ctx, t, structure, empties, &res); err != nil {
			return res, err
		}
	}

	var seqTables []SequenceTable
	for _, t := range data {
		if inScope(t.Name) && !empties[t.Name] && structure.AutoIncrement(t.Name) {
			seqTables = append(seqTables, SequenceTable{Name: t.Name, LastID: t.LastID()})
		}
	}
	if res.Sequences, err = e.resetSequences(ctx, seqTables); err != nil {
		return res, err
	}
	e.enter(PhaseSequencesReset)

	captured := make(map[string]bool, len(data))
	for _, t := range data {
		captured[t.Name] = true
	}
	for _, table := range live {
		if captured[table] {
			continue
		}
		if err := e.db.DropTable(ctx, table); err != nil {
			return res, err
		}
		res.Dropped = append(res.Dropped, table)
	}
	e.enter(PhaseTablesCleaned)

	e.tracker.Clear()
	e.firstRun = false

	e.log.Info("database reset", logger.Fields(
		"first_run", res.FirstRun,
		"restored", len(res.Restored),
		"truncated", len(res.Truncated),
		"emptied", len(res.Emptied),
		"dropped", len(res.Dropped),
		"sequences", len(res.Sequences),
		logger.FieldDuration, time.Since(start).Milliseconds(),
	))
	return res, nil
}

func (e *Engine) restoreTable(ctx context.Context, t snapshot.TableRows, structure snapshot.TableStructure, empties map[string]bool, res *Result) error {
	if len(t.Rows) == 0 {
		if empties[t.Name] {
			return nil
		}
		if err := e.db.DeleteAll(ctx, t.Name); err != nil {
			return err
		}
		res.Emptied = append(res.Emptied, t.Name)
		return nil
	}

	if structure.AutoIncrement(t.Name) {
		current, err := e.db.Records(ctx, t.Name, true)
		if err != nil {
			return err
		}
		switch diff, last := compareRows(t.Rows, current); diff {
		case rowsUnchanged:
			return nil
		case rowsAppended:
			if err := e.db.DeleteAbove(ctx, t.Name, last); err != nil {
				return err
			}
			res.Truncated = append(res.Truncated, t.Name)
			return nil
		}
	}

	if err := e.db.DeleteAll(ctx, t.Name); err != nil {
		return err
	}
	for _, rec := range t.Rows {
		if err := e.db.ImportRecord(ctx, t.Name, rec); err != nil {
			return err
		}
	}
	res.Restored = append(res.Restored, t.Name)
	return nil
}

func (e *Engine) resetSequences(ctx context.Context, tables []SequenceTable) (seqs map[string]int64, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanSequences,
		attribute.Int(observability.AttrTables, len(tables)))
	defer func() { observability.EndSpan(span, err) }()

	e.alloc.BeginPass()
	return e.strategy.Reset(ctx, e.db, tables, e.alloc)
}

type rowDiff int

const (
	rowsUnchanged rowDiff = iota
	rowsAppended
	rowsChanged
)

// compareRows compares live rows with captured ones by id. Live rows that
// only add ids above every captured id count as appended; any missing,
// modified or interleaved row counts as changed. The second result is the
// highest captured id.
func compareRows(captured, live []database.Record) (rowDiff, int64) {
	byID := make(map[int64]database.Record, len(live))
	for _, r := range live {
		id, ok := r.ID()
		if !ok {
			return rowsChanged, 0
		}
		byID[id] = r
	}

	var last int64
	for _, r := range captured {
		id, ok := r.ID()
		if !ok {
			return rowsChanged, 0
		}
		cur, found := byID[id]
		if !found || !r.Equal(cur) {
			return rowsChanged, 0
		}
		delete(byID, id)
		last = max(last, id)
	}

	if len(byID) == 0 {
		return rowsUnchanged, last
	}
	for id := range byID {
		if id <= last {
			return rowsChanged, last
		}
	}
	return rowsAppended, last
}

// DropAll drops every table of the installation. The config table goes
// last, so an interrupted drop still reads as not installed. The next
// Reset starts a first run.
func (e *Engine) DropAll(ctx context.Context) (dropped []string, err error) {
	ctx, span := observability.StartSpan(ctx, observability.SpanDropDatabase)
	defer func() { observability.EndSpan(span, err) }()

	tables, err := e.db.Tables(ctx)
	if err != nil {
		return nil, err
	}
	hasConfig := false
	for _, table := range tables {
		if table == database.ConfigTable {
			hasConfig = true
			continue
		}
		if err := e.db.DropTable(ctx, table); err != nil {
			return dropped, err
		}
		dropped = append(dropped, table)
	}
	if hasConfig {
		if err := e.db.DropTable(ctx, database.ConfigTable); err != nil {
			return dropped, err
		}
		dropped = append(dropped, database.ConfigTable)
	}

	e.tracker.Clear()
	e.firstRun = true
	e.log.Info("database dropped", logger.Fields(logger.FieldCount, len(dropped)))
	return dropped, nil
}

func (e *Engine) record(ctx context.Context, res Result, err error, d time.Duration) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		e.metrics.RecordError(ctx, "dbreset", errorCode(err))
		return
	}
	e.metrics.RecordReset(ctx, "database", res.Performed, d)
	e.metrics.RecordTables(ctx, observability.KindRestored, len(res.Restored))
	e.metrics.RecordTables(ctx, observability.KindTruncated, len(res.Truncated))
	e.metrics.RecordTables(ctx, observability.KindEmptied, len(res.Emptied))
	e.metrics.RecordTables(ctx, observability.KindDropped, len(res.Dropped))
}

func errorCode(err error) string {
	if code := apperrors.CodeOf(err); code != "" {
		return string(code)
	}
	return string(apperrors.ErrCodeInternal)
}
