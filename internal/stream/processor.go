// Package stream converts raw bus events into time-series points and the
// derived quantities (deltas, percentage change, rolling aggregates) that
// feed alerting and live broadcast.
package stream

import (
	"context"
	"time"

	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// Broadcast is an outbound live-client message produced by a processor.
// EntityID, when set, narrows delivery to clients tied to that entity.
type Broadcast struct {
	Topic    string
	Type     string
	EntityID string
	Data     map[string]interface{}
}

// AlertCheck asks the rule engine to evaluate one rule against a value.
type AlertCheck struct {
	Rule    string
	Value   float64
	Context map[string]interface{}
}

// Result is everything a processor derived from a single event.
type Result struct {
	Points     []tsdb.Point
	Broadcasts []Broadcast
	Alerts     []AlertCheck
}

// Processor owns one metric family: its aggregation window, retention
// policy, and the rolling per-entity buffers needed to compute deltas.
type Processor interface {
	Name() string
	Topic() string
	Process(ctx context.Context, evt event.Event) (*Result, error)
}

// Family holds the per-metric-family aggregation window and retention
// period attached to every write.
type Family struct {
	AggregationWindow time.Duration
	RetentionPeriod   time.Duration
}

// Retention windows mirror the platform's documented policies per family.
var (
	RevenueFamily    = Family{AggregationWindow: time.Minute, RetentionPeriod: 30 * 24 * time.Hour}
	InvestmentFamily = Family{AggregationWindow: time.Minute, RetentionPeriod: 90 * 24 * time.Hour}
	TokenFamily      = Family{AggregationWindow: time.Minute, RetentionPeriod: 30 * 24 * time.Hour}
	ActivityFamily   = Family{AggregationWindow: 5 * time.Second, RetentionPeriod: 24 * time.Hour}
	PlatformFamily   = Family{AggregationWindow: 30 * time.Second, RetentionPeriod: 7 * 24 * time.Hour}
)

// percentChange implements (current-previous)/previous*100 with the
// divide-by-zero convention pinned to 0.
func percentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}
