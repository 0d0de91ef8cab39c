package stream

import (
	"context"

	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// ActivityProcessor turns user.activity events into windowed per-action
// counts on the "user_activity" series.
type ActivityProcessor struct {
	family Family
	agg    *Aggregator
}

// NewActivityProcessor creates the user activity metric family processor.
func NewActivityProcessor() *ActivityProcessor {
	return &ActivityProcessor{
		family: ActivityFamily,
		agg:    NewAggregator(ActivityFamily.AggregationWindow, ReduceSum),
	}
}

func (p *ActivityProcessor) Name() string  { return "activity" }
func (p *ActivityProcessor) Topic() string { return event.TopicUserActivity }

// Process counts one occurrence per event, summed within the aggregation
// window per action.
func (p *ActivityProcessor) Process(_ context.Context, evt event.Event) (*Result, error) {
	var payload event.ActivityPayload
	if err := event.Decode(evt, &payload); err != nil {
		return nil, err
	}

	point := p.agg.Aggregate(payload.Action, tsdb.Point{
		Series: "user_activity",
		Tags: map[string]string{
			"action": payload.Action,
		},
		Fields: map[string]float64{
			"count": 1,
		},
		Timestamp: evt.ReceivedAt,
		Retention: p.family.RetentionPeriod,
	})

	return &Result{
		Points: []tsdb.Point{point},
		Broadcasts: []Broadcast{{
			Topic: "activity",
			Type:  "activity_update",
			Data: map[string]interface{}{
				"userId":    payload.UserID,
				"action":    payload.Action,
				"timestamp": evt.ReceivedAt.UnixMilli(),
			},
		}},
	}, nil
}
