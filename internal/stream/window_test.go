package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/creatorfi/pulse/internal/tsdb"
)

func windowPoint(amount float64, at time.Time) tsdb.Point {
	return tsdb.Point{
		Series:    "revenue",
		Tags:      map[string]string{"creator_id": "creator-1"},
		Fields:    map[string]float64{"amount": amount},
		Timestamp: at,
	}
}

func TestAggregateTruncatesTimestampToWindow(t *testing.T) {
	agg := NewAggregator(time.Minute, ReduceMean)
	at := time.Date(2026, 8, 1, 12, 0, 42, 0, time.UTC)

	out := agg.Aggregate("creator-1", windowPoint(100, at))
	assert.Equal(t, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), out.Timestamp)
}

func TestAggregateMeanWithinWindow(t *testing.T) {
	agg := NewAggregator(time.Minute, ReduceMean)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	agg.Aggregate("creator-1", windowPoint(100, base.Add(5*time.Second)))
	out := agg.Aggregate("creator-1", windowPoint(200, base.Add(30*time.Second)))

	assert.InDelta(t, 150, out.Fields["amount"], 1e-9)
	assert.Equal(t, base, out.Timestamp)
}

func TestAggregateSumWithinWindow(t *testing.T) {
	agg := NewAggregator(5*time.Second, ReduceSum)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	agg.Aggregate("login", tsdb.Point{
		Series: "user_activity", Fields: map[string]float64{"count": 1}, Timestamp: base,
	})
	out := agg.Aggregate("login", tsdb.Point{
		Series: "user_activity", Fields: map[string]float64{"count": 1}, Timestamp: base.Add(2 * time.Second),
	})

	assert.InDelta(t, 2, out.Fields["count"], 1e-9)
}

func TestAggregateNewWindowResetsState(t *testing.T) {
	agg := NewAggregator(time.Minute, ReduceMean)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	agg.Aggregate("creator-1", windowPoint(100, base))
	out := agg.Aggregate("creator-1", windowPoint(300, base.Add(90*time.Second)))

	assert.InDelta(t, 300, out.Fields["amount"], 1e-9, "a new window starts from scratch")
	assert.Equal(t, base.Add(time.Minute), out.Timestamp)
}

func TestAggregateKeysAreIndependent(t *testing.T) {
	agg := NewAggregator(time.Minute, ReduceMean)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	agg.Aggregate("creator-a", windowPoint(100, base))
	out := agg.Aggregate("creator-b", windowPoint(300, base))

	assert.InDelta(t, 300, out.Fields["amount"], 1e-9)
}

func TestAggregatePassthroughFieldsKeepLatestValue(t *testing.T) {
	agg := NewAggregator(time.Minute, ReduceMean)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	agg.Aggregate("creator-1", tsdb.Point{
		Series:    "revenue",
		Fields:    map[string]float64{"amount": 100, "change": 10},
		Timestamp: base,
	}, "change")
	out := agg.Aggregate("creator-1", tsdb.Point{
		Series:    "revenue",
		Fields:    map[string]float64{"amount": 200, "change": -5},
		Timestamp: base.Add(10 * time.Second),
	}, "change")

	assert.InDelta(t, 150, out.Fields["amount"], 1e-9, "amount is mean-reduced")
	assert.InDelta(t, -5, out.Fields["change"], 1e-9, "change keeps its latest raw value")
}

func TestPercentChange(t *testing.T) {
	assert.InDelta(t, 50, percentChange(300, 200), 1e-9)
	assert.InDelta(t, -25, percentChange(150, 200), 1e-9)
	assert.InDelta(t, 0, percentChange(100, 0), 1e-9)
}
