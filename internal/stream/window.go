package stream

import (
	"sync"
	"time"

	"github.com/creatorfi/pulse/internal/tsdb"
)

// Reduce selects how raw values within one aggregation window collapse
// into the stored field value.
type Reduce int

const (
	// ReduceMean stores the running mean of the window (amounts, prices).
	ReduceMean Reduce = iota
	// ReduceSum stores the running sum of the window (counts).
	ReduceSum
)

type windowState struct {
	start time.Time
	count int
	sums  map[string]float64
}

// Aggregator collapses the raw updates arriving within one aggregation
// window into a single point per entity key. The emitted point carries the
// window-start timestamp, so repeated writes for the same window overwrite
// each other and duplicate bus deliveries stay idempotent.
type Aggregator struct {
	window time.Duration
	reduce Reduce

	mu      sync.Mutex
	current map[string]*windowState
}

// NewAggregator creates an aggregator for the given window and reduction.
func NewAggregator(window time.Duration, reduce Reduce) *Aggregator {
	return &Aggregator{
		window:  window,
		reduce:  reduce,
		current: make(map[string]*windowState),
	}
}

// Aggregate folds the point for key into its window and returns the point
// to persist: same tags, window-truncated timestamp, reduced fields.
// Passthrough fields (deltas, derived ratios) listed in latest keep their
// most recent raw value instead of being reduced.
func (a *Aggregator) Aggregate(key string, p tsdb.Point, latest ...string) tsdb.Point {
	windowStart := p.Timestamp.Truncate(a.window)

	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.current[key]
	if !ok || !st.start.Equal(windowStart) {
		st = &windowState{start: windowStart, sums: make(map[string]float64)}
		a.current[key] = st
	}
	st.count++

	latestSet := make(map[string]bool, len(latest))
	for _, f := range latest {
		latestSet[f] = true
	}

	out := tsdb.Point{
		Series:    p.Series,
		Tags:      p.Tags,
		Fields:    make(map[string]float64, len(p.Fields)),
		Timestamp: windowStart,
		Retention: p.Retention,
	}
	for name, v := range p.Fields {
		if latestSet[name] {
			out.Fields[name] = v
			continue
		}
		st.sums[name] += v
		switch a.reduce {
		case ReduceSum:
			out.Fields[name] = st.sums[name]
		default:
			out.Fields[name] = st.sums[name] / float64(st.count)
		}
	}

	// Drop windows older than the emitted one so the map stays bounded by
	// the number of active entity keys.
	for k, s := range a.current {
		if s.start.Before(windowStart.Add(-a.window)) {
			delete(a.current, k)
		}
	}
	return out
}
