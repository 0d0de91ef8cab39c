// Package dashboard maintains O(1)-updatable rolling summaries per series
// so current-state queries never rescan the time-series store.
package dashboard

import (
	"container/heap"
	"sync"
	"time"

	"github.com/creatorfi/pulse/internal/tsdb"
)

// EntityTotal is one top-N entry: an entity and its running total.
type EntityTotal struct {
	EntityID string  `json:"entityId"`
	Total    float64 `json:"total"`
}

// Summary is a point-in-time copy of a series' rolling aggregates.
type Summary struct {
	Series    string        `json:"series"`
	Total     float64       `json:"total"`
	Count     int64         `json:"count"`
	Average   float64       `json:"average"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
	Last      float64       `json:"last"`
	TopN      []EntityTotal `json:"topN"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// entityHeap is a min-heap over totals, bounded at the configured N.
type entityHeap []EntityTotal

func (h entityHeap) Len() int            { return len(h) }
func (h entityHeap) Less(i, j int) bool  { return h[i].Total < h[j].Total }
func (h entityHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entityHeap) Push(x interface{}) { *h = append(*h, x.(EntityTotal)) }
func (h *entityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type seriesState struct {
	total   float64
	count   int64
	min     float64
	max     float64
	last    float64
	updated time.Time

	// entity running totals keyed by primary tag; the heap holds the
	// current top-N view over them.
	entityTotals map[string]float64
	entityCounts map[string]int64
	top          entityHeap
	inTop        map[string]bool
}

// Cache holds one rolling summary per series. Updates come from the
// pipeline hot path; snapshots are safe to read concurrently and never
// block ingestion beyond the per-cache RWMutex.
type Cache struct {
	mu     sync.RWMutex
	series map[string]*seriesState
	topN   int

	// primaryTag picks the entity dimension for top-N per series.
	primaryTag map[string]string
	valueField map[string]string
}

// NewCache creates a cache keeping the topN best entities per series.
func NewCache(topN int) *Cache {
	return &Cache{
		series: make(map[string]*seriesState),
		topN:   topN,
		primaryTag: map[string]string{
			"revenue":          "creator_id",
			"investment":       "creator_id",
			"token_activity":   "creator_id",
			"user_activity":    "action",
			"platform_metrics": "",
		},
		valueField: map[string]string{
			"revenue":          "amount",
			"investment":       "amount",
			"token_activity":   "price",
			"user_activity":    "count",
			"platform_metrics": "response_time_ms",
		},
	}
}

// Update folds a single point into the series' rolling summary.
func (c *Cache) Update(seriesName string, point tsdb.Point) {
	field := c.valueField[seriesName]
	if field == "" {
		field = "amount"
	}
	value, ok := point.Fields[field]
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, exists := c.series[seriesName]
	if !exists {
		st = &seriesState{
			min:          value,
			max:          value,
			entityTotals: make(map[string]float64),
			entityCounts: make(map[string]int64),
			inTop:        make(map[string]bool),
		}
		c.series[seriesName] = st
	}

	st.total += value
	st.count++
	st.last = value
	st.updated = point.Timestamp
	if value < st.min {
		st.min = value
	}
	if value > st.max {
		st.max = value
	}

	tag := c.primaryTag[seriesName]
	if tag == "" {
		return
	}
	entity := point.Tags[tag]
	if entity == "" {
		return
	}
	st.entityTotals[entity] += value
	st.entityCounts[entity]++
	c.updateTop(st, entity)
}

// updateTop maintains the bounded top-N heap without rescanning all
// entity totals.
func (c *Cache) updateTop(st *seriesState, entity string) {
	total := st.entityTotals[entity]
	if st.inTop[entity] {
		for i := range st.top {
			if st.top[i].EntityID == entity {
				st.top[i].Total = total
				heap.Fix(&st.top, i)
				return
			}
		}
		return
	}
	if st.top.Len() < c.topN {
		heap.Push(&st.top, EntityTotal{EntityID: entity, Total: total})
		st.inTop[entity] = true
		return
	}
	if total > st.top[0].Total {
		delete(st.inTop, st.top[0].EntityID)
		st.top[0] = EntityTotal{EntityID: entity, Total: total}
		heap.Fix(&st.top, 0)
		st.inTop[entity] = true
	}
}

// Snapshot returns a copy of the series summary, ordered best-first.
// ok is false when the series has never been updated.
func (c *Cache) Snapshot(seriesName string) (Summary, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, exists := c.series[seriesName]
	if !exists {
		return Summary{Series: seriesName}, false
	}

	top := make([]EntityTotal, len(st.top))
	copy(top, st.top)
	// Heap order is partial; present best-first.
	for i := 0; i < len(top); i++ {
		for j := i + 1; j < len(top); j++ {
			if top[j].Total > top[i].Total {
				top[i], top[j] = top[j], top[i]
			}
		}
	}

	avg := 0.0
	if st.count > 0 {
		avg = st.total / float64(st.count)
	}
	return Summary{
		Series:    seriesName,
		Total:     st.total,
		Count:     st.count,
		Average:   avg,
		Min:       st.min,
		Max:       st.max,
		Last:      st.last,
		TopN:      top,
		UpdatedAt: st.updated,
	}, true
}

// SnapshotAll returns summaries for every series seen so far.
func (c *Cache) SnapshotAll() map[string]Summary {
	c.mu.RLock()
	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	c.mu.RUnlock()

	out := make(map[string]Summary, len(names))
	for _, name := range names {
		if s, ok := c.Snapshot(name); ok {
			out[name] = s
		}
	}
	return out
}

// EntitySummary returns the running total and count for one entity within
// a series, used to enrich creator-scoped notifications.
func (c *Cache) EntitySummary(seriesName, entityID string) (total float64, count int64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, exists := c.series[seriesName]
	if !exists {
		return 0, 0, false
	}
	total, ok = st.entityTotals[entityID]
	return total, st.entityCounts[entityID], ok
}
