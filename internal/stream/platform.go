package stream

import (
	"context"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// PlatformProcessor turns platform.metrics events into "platform_metrics"
// series points and feeds the global platform performance rule.
type PlatformProcessor struct {
	family Family
	agg    *Aggregator
}

// NewPlatformProcessor creates the platform health metric family processor.
func NewPlatformProcessor() *PlatformProcessor {
	return &PlatformProcessor{
		family: PlatformFamily,
		agg:    NewAggregator(PlatformFamily.AggregationWindow, ReduceMean),
	}
}

func (p *PlatformProcessor) Name() string  { return "platform" }
func (p *PlatformProcessor) Topic() string { return event.TopicPlatformMetrics }

// Process aggregates health samples into 30s mean windows. The alert check
// carries all three gauges; the rule's dedup key is global.
func (p *PlatformProcessor) Process(_ context.Context, evt event.Event) (*Result, error) {
	var payload event.PlatformPayload
	if err := event.Decode(evt, &payload); err != nil {
		return nil, err
	}

	point := p.agg.Aggregate("platform", tsdb.Point{
		Series: "platform_metrics",
		Tags:   map[string]string{},
		Fields: map[string]float64{
			"response_time_ms": payload.ResponseTime,
			"error_rate":       payload.ErrorRate,
			"cpu_usage":        payload.CPUUsage,
		},
		Timestamp: evt.ReceivedAt,
		Retention: p.family.RetentionPeriod,
	})

	return &Result{
		Points: []tsdb.Point{point},
		Broadcasts: []Broadcast{{
			Topic: "platform",
			Type:  "platform_update",
			Data: map[string]interface{}{
				"responseTime": payload.ResponseTime,
				"errorRate":    payload.ErrorRate,
				"cpuUsage":     payload.CPUUsage,
				"timestamp":    evt.ReceivedAt.UnixMilli(),
			},
		}},
		Alerts: []AlertCheck{{
			Rule:  alert.RulePlatformPerformance,
			Value: payload.ResponseTime,
			Context: map[string]interface{}{
				"responseTime": payload.ResponseTime,
				"errorRate":    payload.ErrorRate,
				"cpuUsage":     payload.CPUUsage,
			},
		}},
	}, nil
}
