package stream

import (
	"context"
	"time"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// InvestmentProcessor turns investment.created events into "investment"
// series points and creator-scoped notifications carrying running totals.
type InvestmentProcessor struct {
	family Family
	raised *PrevBuffer // running capital raised per creator
	counts *PrevBuffer // running investment count per creator
	agg    *Aggregator
}

// NewInvestmentProcessor creates the investment metric family processor.
func NewInvestmentProcessor(bufferTTL time.Duration) *InvestmentProcessor {
	return &InvestmentProcessor{
		family: InvestmentFamily,
		raised: NewPrevBuffer(bufferTTL),
		counts: NewPrevBuffer(bufferTTL),
		agg:    NewAggregator(InvestmentFamily.AggregationWindow, ReduceSum),
	}
}

func (p *InvestmentProcessor) Name() string  { return "investment" }
func (p *InvestmentProcessor) Topic() string { return event.TopicInvestmentCreated }

// Process persists the investment and emits both the broad investment feed
// message and the creator-scoped new_investment notification.
func (p *InvestmentProcessor) Process(_ context.Context, evt event.Event) (*Result, error) {
	var payload event.InvestmentPayload
	if err := event.Decode(evt, &payload); err != nil {
		return nil, err
	}

	totalRaised := p.raised.Add(payload.CreatorID, payload.Amount)
	investmentCount := p.counts.Add(payload.CreatorID, 1)

	entityKey := payload.CreatorID + "|" + payload.InvestorID
	point := p.agg.Aggregate(entityKey, tsdb.Point{
		Series: "investment",
		Tags: map[string]string{
			"investor_id": payload.InvestorID,
			"creator_id":  payload.CreatorID,
		},
		Fields: map[string]float64{
			"amount":       payload.Amount,
			"token_amount": payload.TokenAmount,
		},
		Timestamp: evt.ReceivedAt,
		Retention: p.family.RetentionPeriod,
	})

	return &Result{
		Points: []tsdb.Point{point},
		Broadcasts: []Broadcast{
			{
				Topic: "investments",
				Type:  "investment_update",
				Data: map[string]interface{}{
					"creatorId":   payload.CreatorID,
					"amount":      payload.Amount,
					"tokenAmount": payload.TokenAmount,
					"timestamp":   evt.ReceivedAt.UnixMilli(),
				},
			},
			{
				Topic:    "investments",
				Type:     "new_investment",
				EntityID: payload.CreatorID,
				Data: map[string]interface{}{
					"creatorId":       payload.CreatorID,
					"amount":          payload.Amount,
					"tokenAmount":     payload.TokenAmount,
					"totalRaised":     totalRaised,
					"investmentCount": int64(investmentCount),
					"timestamp":       evt.ReceivedAt.UnixMilli(),
				},
			},
		},
		Alerts: []AlertCheck{{
			Rule:  alert.RuleLargeInvestment,
			Value: payload.Amount,
			Context: map[string]interface{}{
				"investorId": payload.InvestorID,
				"creatorId":  payload.CreatorID,
			},
		}},
	}, nil
}

// Stop releases the rolling buffers.
func (p *InvestmentProcessor) Stop() {
	p.raised.Stop()
	p.counts.Stop()
}
