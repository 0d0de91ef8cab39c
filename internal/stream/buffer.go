package stream

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const lockStripes = 64

// keyedMutex provides fine-grained locking scoped to an entity key so
// unrelated entities never serialize on each other.
type keyedMutex struct {
	stripes [lockStripes]sync.Mutex
}

func (k *keyedMutex) lock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &k.stripes[h.Sum32()%lockStripes]
	m.Lock()
	return m
}

// PrevBuffer is the rolling previous-value buffer for delta metrics. Keys
// are entity identifiers; stale keys are evicted by TTL so the buffer
// cannot grow unbounded.
type PrevBuffer struct {
	cache *ttlcache.Cache[string, float64]
	locks keyedMutex
}

// NewPrevBuffer creates a buffer whose entries expire after ttl.
func NewPrevBuffer(ttl time.Duration) *PrevBuffer {
	c := ttlcache.New[string, float64](
		ttlcache.WithTTL[string, float64](ttl),
	)
	go c.Start()
	return &PrevBuffer{cache: c}
}

// Swap stores value for key and returns the previous value, atomically
// per key. ok is false on the first observation for a key.
func (b *PrevBuffer) Swap(key string, value float64) (prev float64, ok bool) {
	m := b.locks.lock(key)
	defer m.Unlock()
	if item := b.cache.Get(key); item != nil {
		prev, ok = item.Value(), true
	}
	b.cache.Set(key, value, ttlcache.DefaultTTL)
	return prev, ok
}

// Add accumulates value onto the running total for key and returns the
// new total. Used for running supplies and raised-capital counters.
func (b *PrevBuffer) Add(key string, value float64) float64 {
	m := b.locks.lock(key)
	defer m.Unlock()
	total := value
	if item := b.cache.Get(key); item != nil {
		total += item.Value()
	}
	b.cache.Set(key, total, ttlcache.DefaultTTL)
	return total
}

// Stop halts the TTL eviction loop.
func (b *PrevBuffer) Stop() {
	b.cache.Stop()
}

// History keeps a bounded window of recent observations per entity key,
// used to compute the historical mean for anomaly detection. Stale keys
// expire with the configured TTL.
type History struct {
	cache *ttlcache.Cache[string, []float64]
	locks keyedMutex
	size  int
}

// NewHistory creates a history window of at most size observations per key.
func NewHistory(size int, ttl time.Duration) *History {
	c := ttlcache.New[string, []float64](
		ttlcache.WithTTL[string, []float64](ttl),
	)
	go c.Start()
	return &History{cache: c, size: size}
}

// Observe returns the mean of the values recorded for key so far, then
// appends value to the window. ok is false when no history existed yet.
func (h *History) Observe(key string, value float64) (mean float64, ok bool) {
	m := h.locks.lock(key)
	defer m.Unlock()

	var window []float64
	if item := h.cache.Get(key); item != nil {
		window = item.Value()
	}
	if len(window) > 0 {
		var sum float64
		for _, v := range window {
			sum += v
		}
		mean, ok = sum/float64(len(window)), true
	}

	window = append(window, value)
	if len(window) > h.size {
		window = window[len(window)-h.size:]
	}
	h.cache.Set(key, window, ttlcache.DefaultTTL)
	return mean, ok
}

// Stop halts the TTL eviction loop.
func (h *History) Stop() {
	h.cache.Stop()
}
