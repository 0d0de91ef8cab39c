package stream

import (
	"context"
	"time"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// TokenProcessor turns token.purchased events into "token_activity" series
// points with price-change fractions against the rolling previous price.
type TokenProcessor struct {
	family    Family
	prevPrice *PrevBuffer
	supply    *PrevBuffer // running circulating supply per creator token
	agg       *Aggregator
}

// NewTokenProcessor creates the token trading metric family processor.
func NewTokenProcessor(bufferTTL time.Duration) *TokenProcessor {
	return &TokenProcessor{
		family:    TokenFamily,
		prevPrice: NewPrevBuffer(bufferTTL),
		supply:    NewPrevBuffer(bufferTTL),
		agg:       NewAggregator(TokenFamily.AggregationWindow, ReduceMean),
	}
}

func (p *TokenProcessor) Name() string  { return "token" }
func (p *TokenProcessor) Topic() string { return event.TopicTokenPurchased }

// Process computes the price-change fraction against the previous trade
// for the same creator token; the first trade produces change 0.
func (p *TokenProcessor) Process(_ context.Context, evt event.Event) (*Result, error) {
	var payload event.TokenPurchasePayload
	if err := event.Decode(evt, &payload); err != nil {
		return nil, err
	}

	var priceChange float64
	if previous, ok := p.prevPrice.Swap(payload.CreatorID, payload.Price); ok && previous != 0 {
		priceChange = (payload.Price - previous) / previous
	}
	totalSupply := p.supply.Add(payload.CreatorID, payload.TokenAmount)
	marketCap := totalSupply * payload.Price

	point := p.agg.Aggregate(payload.CreatorID, tsdb.Point{
		Series: "token_activity",
		Tags: map[string]string{
			"creator_id":   payload.CreatorID,
			"purchaser_id": payload.PurchaserID,
		},
		Fields: map[string]float64{
			"token_amount": payload.TokenAmount,
			"price":        payload.Price,
			"market_cap":   marketCap,
			"price_change": priceChange,
		},
		Timestamp: evt.ReceivedAt,
		Retention: p.family.RetentionPeriod,
	}, "price_change", "market_cap")

	return &Result{
		Points: []tsdb.Point{point},
		Broadcasts: []Broadcast{{
			Topic: "tokens",
			Type:  "token_price_update",
			Data: map[string]interface{}{
				"creatorId":   payload.CreatorID,
				"price":       payload.Price,
				"priceChange": priceChange,
				"marketCap":   marketCap,
				"timestamp":   evt.ReceivedAt.UnixMilli(),
			},
		}},
		Alerts: []AlertCheck{{
			Rule:  alert.RuleTokenVolatility,
			Value: priceChange,
			Context: map[string]interface{}{
				"creatorId": payload.CreatorID,
				"price":     payload.Price,
			},
		}},
	}, nil
}

// Stop releases the rolling buffers.
func (p *TokenProcessor) Stop() {
	p.prevPrice.Stop()
	p.supply.Stop()
}
