// Package sequence spreads the id counters of reset tables across distinct
// numeric ranges, so an id that belongs to one table is unlikely to exist
// in another. Tests that confuse the two then fail instead of passing by
// accident.
package sequence

// Defaults for the first block base and the block size.
const (
	DefaultStart int64 = 100000
	DefaultBlock int64 = 1000
)

// Allocator hands out one starting id per table per pass.
type Allocator struct {
	start    int64
	block    int64
	base     int64
	assigned map[string]int64
}

// New creates an allocator. Non-positive values select the defaults.
func New(start, block int64) *Allocator {
	if start <= 0 {
		start = DefaultStart
	}
	if block <= 0 {
		block = DefaultBlock
	}
	return &Allocator{
		start:    start,
		block:    block,
		base:     start,
		assigned: make(map[string]int64),
	}
}

// BeginPass rewinds the block base to the start value and forgets every
// assignment of the previous pass.
func (a *Allocator) BeginPass() {
	a.base = a.start
	a.assigned = make(map[string]int64)
}

// Next returns the starting id for table. lastID is the highest id among
// the table's captured rows, 0 if none. Repeated calls within a pass
// return the first assignment.
func (a *Allocator) Next(table string, lastID int64) int64 {
	if id, ok := a.assigned[table]; ok {
		return id
	}
	id := max(a.base, lastID+1)
	a.base = id + a.block
	a.assigned[table] = id
	return id
}
