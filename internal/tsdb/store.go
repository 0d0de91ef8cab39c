// Package tsdb defines the time-series point model and the store the
// pipeline persists observations to.
package tsdb

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Point is a single immutable time-series observation. Tags identify the
// entity the measurement belongs to; fields hold the numeric measurements.
type Point struct {
	Series    string             `json:"series"`
	Tags      map[string]string  `json:"tags"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp time.Time          `json:"timestamp"`

	// Retention is metadata attached to the write so the store (or an
	// external pruning job) knows when the point becomes prunable.
	Retention time.Duration `json:"-"`
}

// Store persists computed observations keyed by series, tags, and timestamp.
type Store interface {
	WritePoints(ctx context.Context, points []Point) error
	Query(ctx context.Context, series string, from, to time.Time) ([]Point, error)
	Close() error
}

// MemoryStore is an in-process Store used by tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string][]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string][]Point)}
}

// WritePoints appends points; duplicate timestamp+tag writes overwrite,
// keeping derived writes idempotent under at-least-once delivery.
func (m *MemoryStore) WritePoints(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		existing := m.points[p.Series]
		replaced := false
		for i, e := range existing {
			if e.Timestamp.Equal(p.Timestamp) && tagsEqual(e.Tags, p.Tags) {
				existing[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, p)
		}
		m.points[p.Series] = existing
	}
	return nil
}

// Query returns points for series within [from, to], ordered by timestamp.
func (m *MemoryStore) Query(_ context.Context, series string, from, to time.Time) ([]Point, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Point
	for _, p := range m.points[series] {
		if !p.Timestamp.Before(from) && !p.Timestamp.After(to) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }

func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
