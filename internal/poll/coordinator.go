// Package poll implements the adaptive polling coordinator: the component
// that decides on every tick which configured points actually need a network
// round-trip, executes the batched read, merges the result into the shared
// value store and adjusts each point's future cadence based on whether its
// value changed.
package poll

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/climatix-tools/climatixd/internal/device"
	"github.com/climatix-tools/climatixd/internal/store"
)

// Reader is the slice of the device client the coordinator depends on.
// [device.Client] satisfies it.
type Reader interface {
	Read(ctx context.Context, ids []string, chunkSize int) (device.ReadResult, error)
}

// PointSpec describes one point the coordinator schedules.
type PointSpec struct {
	ID   string
	Mode Mode
}

// ChangeEvent reports an observed value change on a read point. Previous is
// always present: the first observation of a point does not produce an event.
type ChangeEvent struct {
	PointID  string
	Previous any
	Current  any
}

// CycleStats summarises one tick for the caller's logging.
type CycleStats struct {
	// First reports whether this tick performed the initial full read.
	First bool
	// Due is the number of points selected for this cycle.
	Due int
	// Skipped is the number of points whose counters merely aged.
	Skipped int
	// Changed is the number of read points whose value changed.
	Changed int
}

// pointState is the per-point schedule state.
type pointState struct {
	counter int
}

// Config carries the construction knobs for a [Coordinator].
type Config struct {
	// Points lists the points to manage, in configuration order. Entries
	// with duplicate IDs are dropped, keeping the first occurrence.
	Points []PointSpec

	// Threshold is the slow-poll threshold in ticks. Zero selects
	// DefaultThreshold; other values are clamped via [ClampThreshold].
	Threshold int

	// ChunkSize caps how many points are requested per HTTP call. It is
	// passed through to the reader, which applies its own default and
	// bounds.
	ChunkSize int

	// Diagnostics receives the coordinator's traffic accounting. Optional;
	// a fresh instance is created when nil.
	Diagnostics *Diagnostics

	// OnChange, when set, is invoked synchronously under the coordinator
	// lock for every read point whose value changed. Keep it fast.
	OnChange func(ChangeEvent)

	// Rand drives the randomised counter resets. Optional; defaults to a
	// time-seeded source.
	Rand *rand.Rand
}

// Coordinator runs the adaptive polling loop for one controller. It owns the
// per-point counters and is the only writer to its value store. Ticks and
// forced refreshes are serialised internally, so a single Coordinator never
// has two reads in flight at once; separate Coordinator instances share
// nothing and run fully independently.
type Coordinator struct {
	mu        sync.Mutex
	reader    Reader
	store     store.Store
	points    []PointSpec
	modes     map[string]Mode
	states    map[string]*pointState
	threshold int
	chunkSize int
	diag      *Diagnostics
	onChange  func(ChangeEvent)
	rng       *rand.Rand
}

// New creates a Coordinator that reads through reader and publishes into st.
func New(reader Reader, st store.Store, cfg Config) *Coordinator {
	c := &Coordinator{
		reader:    reader,
		store:     st,
		modes:     make(map[string]Mode, len(cfg.Points)),
		states:    make(map[string]*pointState, len(cfg.Points)),
		threshold: ClampThreshold(cfg.Threshold),
		chunkSize: cfg.ChunkSize,
		diag:      cfg.Diagnostics,
		onChange:  cfg.OnChange,
		rng:       cfg.Rand,
	}
	if c.diag == nil {
		c.diag = NewDiagnostics()
	}
	if c.rng == nil {
		c.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	for _, p := range cfg.Points {
		if p.ID == "" {
			continue
		}
		if _, ok := c.modes[p.ID]; ok {
			continue
		}
		c.modes[p.ID] = p.Mode
		c.points = append(c.points, p)
	}
	return c
}

// Diagnostics returns the coordinator's traffic accounting.
func (c *Coordinator) Diagnostics() *Diagnostics { return c.diag }

// Threshold returns the clamped slow-poll threshold in effect.
func (c *Coordinator) Threshold() int { return c.threshold }

// PointIDs returns the managed point IDs in configuration order.
func (c *Coordinator) PointIDs() []string {
	ids := make([]string, len(c.points))
	for i, p := range c.points {
		ids[i] = p.ID
	}
	return ids
}

// Tick runs one scheduling cycle: select the due points, read them in one
// batched call, merge the fresh values into the store and settle the
// schedule counters.
//
// The first cycle after the store has never been populated reads every
// configured point regardless of mode and seeds all counters to zero, so
// scheduling decisions always start from a complete snapshot. On later
// cycles every skipped point ages by one, and when nothing is due the tick
// returns without touching the network.
//
// A failed read fails the whole tick: nothing is merged and the counters of
// the due points stay where they were, so the same points are due again on
// the next tick. The previously published snapshot remains valid throughout.
func (c *Coordinator) Tick(ctx context.Context) (CycleStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.store.Populated() {
		return c.firstTick(ctx)
	}

	before := c.store.Snapshot()
	reasons := make(map[string]reason, len(c.points))
	due := make([]string, 0, len(c.points))
	skipped := 0
	for _, p := range c.points {
		st := c.stateFor(p.ID)
		isDue, r := classify(p.Mode, st.counter, c.threshold)
		if !isDue {
			st.counter++
			skipped++
			continue
		}
		due = append(due, p.ID)
		reasons[p.ID] = r
	}

	stats := CycleStats{Due: len(due), Skipped: skipped}
	if len(due) == 0 {
		return stats, nil
	}

	c.diag.NoteValues(len(due))
	result, err := c.reader.Read(ctx, due, c.chunkSize)
	if err != nil {
		return stats, fmt.Errorf("tick read of %d points: %w", len(due), err)
	}

	stats.Changed = c.settle(before, result.Values, due, reasons)
	return stats, nil
}

// firstTick reads every configured point in one batch and seeds the schedule.
func (c *Coordinator) firstTick(ctx context.Context) (CycleStats, error) {
	ids := c.PointIDs()
	stats := CycleStats{First: true, Due: len(ids)}
	if len(ids) == 0 {
		return stats, nil
	}

	c.diag.NoteValues(len(ids))
	result, err := c.reader.Read(ctx, ids, c.chunkSize)
	if err != nil {
		return stats, fmt.Errorf("initial read of %d points: %w", len(ids), err)
	}

	c.store.Merge(result.Values)
	for _, id := range ids {
		c.stateFor(id)
	}
	return stats, nil
}

// Refresh reads exactly the given points immediately, bypassing the due
// predicate, merges the result into the store and settles their counters as
// a scheduled poll would (including the Slow-mode random reset). Callers use
// it to make a just-written value visible without waiting for the point's
// next scheduled read. Empty and duplicate IDs are dropped.
func (c *Coordinator) Refresh(ctx context.Context, ids []string) error {
	want := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		want = append(want, id)
	}
	if len(want) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.store.Snapshot()
	reasons := make(map[string]reason, len(want))
	for _, id := range want {
		// classify the live counter so a refresh takes the same counter
		// branch a scheduled poll of this point would take right now
		_, r := classify(c.modes[id], c.stateFor(id).counter, c.threshold)
		reasons[id] = r
	}

	c.diag.NoteValues(len(want))
	result, err := c.reader.Read(ctx, want, c.chunkSize)
	if err != nil {
		return fmt.Errorf("refresh read of %d points: %w", len(want), err)
	}

	c.settle(before, result.Values, want, reasons)
	return nil
}

// settle merges freshly read values into the store and applies the post-read
// counter rules to every point that was read. It returns how many of those
// points changed value. Callers must hold mu.
func (c *Coordinator) settle(before, fresh map[string]any, read []string, reasons map[string]reason) int {
	c.store.Merge(fresh)

	changed := 0
	for _, id := range read {
		prev, _ := device.FirstValue(before[id])

		// a point the device omitted from the response keeps its prior value
		after := before[id]
		if v, ok := fresh[id]; ok {
			after = v
		}
		cur, _ := device.FirstValue(after)

		same := ValuesEqual(prev, cur)
		if !same {
			changed++
			if c.onChange != nil && prev != nil {
				c.onChange(ChangeEvent{PointID: id, Previous: prev, Current: cur})
			}
		}

		st := c.stateFor(id)
		st.counter = nextCounter(c.modes[id], reasons[id], !same, st.counter, c.rng)
	}
	return changed
}

// stateFor returns the schedule state for id, creating it at counter zero on
// first use. Callers must hold mu.
func (c *Coordinator) stateFor(id string) *pointState {
	st, ok := c.states[id]
	if !ok {
		st = &pointState{}
		c.states[id] = st
	}
	return st
}
