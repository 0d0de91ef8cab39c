// Package event defines the inbound event envelope and the typed payloads
// carried on each bus topic.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Bus topics consumed by the pipeline.
const (
	TopicRevenueUpdated    = "revenue.updated"
	TopicInvestmentCreated = "investment.created"
	TopicTokenPurchased    = "token.purchased"
	TopicUserActivity      = "user.activity"
	TopicPlatformMetrics   = "platform.metrics"
)

// Topics lists every topic the pipeline subscribes to.
func Topics() []string {
	return []string{
		TopicRevenueUpdated,
		TopicInvestmentCreated,
		TopicTokenPurchased,
		TopicUserActivity,
		TopicPlatformMetrics,
	}
}

// Event is a raw envelope as delivered by the bus. Immutable once dispatched.
type Event struct {
	Topic      string
	Key        string
	Payload    []byte
	ReceivedAt time.Time
}

// RevenuePayload is the body of revenue.updated events.
type RevenuePayload struct {
	CreatorID      string   `json:"creatorId" validate:"required"`
	Platform       string   `json:"platform" validate:"required"`
	Amount         float64  `json:"amount" validate:"gte=0"`
	PreviousAmount *float64 `json:"previousAmount,omitempty"`
}

// InvestmentPayload is the body of investment.created events.
type InvestmentPayload struct {
	InvestorID  string  `json:"investorId" validate:"required"`
	CreatorID   string  `json:"creatorId" validate:"required"`
	Amount      float64 `json:"amount" validate:"gt=0"`
	TokenAmount float64 `json:"tokenAmount" validate:"gte=0"`
}

// TokenPurchasePayload is the body of token.purchased events.
type TokenPurchasePayload struct {
	CreatorID   string  `json:"creatorId" validate:"required"`
	PurchaserID string  `json:"purchaserId" validate:"required"`
	TokenAmount float64 `json:"tokenAmount" validate:"gt=0"`
	Price       float64 `json:"price" validate:"gt=0"`
}

// ActivityPayload is the body of user.activity events.
type ActivityPayload struct {
	UserID   string                 `json:"userId" validate:"required"`
	Action   string                 `json:"action" validate:"required"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// PlatformPayload is the body of platform.metrics events.
type PlatformPayload struct {
	ResponseTime float64 `json:"responseTime" validate:"gte=0"`
	ErrorRate    float64 `json:"errorRate" validate:"gte=0,lte=1"`
	CPUUsage     float64 `json:"cpuUsage" validate:"gte=0,lte=1"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals an event payload into dst and validates it against the
// payload's struct tags.
func Decode(evt Event, dst interface{}) error {
	if err := json.Unmarshal(evt.Payload, dst); err != nil {
		return fmt.Errorf("malformed %s payload: %w", evt.Topic, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid %s payload: %w", evt.Topic, err)
	}
	return nil
}
