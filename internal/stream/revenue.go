package stream

import (
	"context"
	"time"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// RevenueProcessor turns revenue.updated events into "revenue" series
// points with absolute, delta, and percentage-change fields, and feeds the
// per-creator history window behind the anomaly rule.
type RevenueProcessor struct {
	family  Family
	prev    *PrevBuffer
	history *History
	agg     *Aggregator
}

// NewRevenueProcessor creates the revenue metric family processor.
// historySize bounds the per-creator anomaly window; bufferTTL bounds how
// long idle creators keep rolling state.
func NewRevenueProcessor(historySize int, bufferTTL time.Duration) *RevenueProcessor {
	return &RevenueProcessor{
		family:  RevenueFamily,
		prev:    NewPrevBuffer(bufferTTL),
		history: NewHistory(historySize, bufferTTL),
		agg:     NewAggregator(RevenueFamily.AggregationWindow, ReduceMean),
	}
}

func (p *RevenueProcessor) Name() string  { return "revenue" }
func (p *RevenueProcessor) Topic() string { return event.TopicRevenueUpdated }

// Process computes delta fields against the rolling previous value. The
// first observation for a creator/platform pair yields delta 0.
func (p *RevenueProcessor) Process(_ context.Context, evt event.Event) (*Result, error) {
	var payload event.RevenuePayload
	if err := event.Decode(evt, &payload); err != nil {
		return nil, err
	}

	entityKey := payload.CreatorID + "|" + payload.Platform
	previous, seen := p.prev.Swap(entityKey, payload.Amount)
	if payload.PreviousAmount != nil {
		previous, seen = *payload.PreviousAmount, true
	}

	var change, changePercent float64
	if seen {
		change = payload.Amount - previous
		changePercent = percentChange(payload.Amount, previous)
	}

	historicalMean, haveHistory := p.history.Observe(payload.CreatorID, payload.Amount)

	point := p.agg.Aggregate(entityKey, tsdb.Point{
		Series: "revenue",
		Tags: map[string]string{
			"creator_id": payload.CreatorID,
			"platform":   payload.Platform,
		},
		Fields: map[string]float64{
			"amount":         payload.Amount,
			"change":         change,
			"change_percent": changePercent,
		},
		Timestamp: evt.ReceivedAt,
		Retention: p.family.RetentionPeriod,
	}, "change", "change_percent")

	res := &Result{
		Points: []tsdb.Point{point},
		Broadcasts: []Broadcast{{
			Topic: "revenue",
			Type:  "revenue_update",
			Data: map[string]interface{}{
				"creatorId":     payload.CreatorID,
				"platform":      payload.Platform,
				"amount":        payload.Amount,
				"change":        change,
				"changePercent": changePercent,
				"timestamp":     evt.ReceivedAt.UnixMilli(),
			},
		}},
	}

	if haveHistory {
		res.Alerts = append(res.Alerts, AlertCheck{
			Rule:  alert.RuleRevenueAnomaly,
			Value: payload.Amount,
			Context: map[string]interface{}{
				"creatorId":      payload.CreatorID,
				"platform":       payload.Platform,
				"historicalMean": historicalMean,
			},
		})
	}
	return res, nil
}

// Stop releases the rolling buffers.
func (p *RevenueProcessor) Stop() {
	p.prev.Stop()
	p.history.Stop()
}
