package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidPayload(t *testing.T) {
	evt := Event{
		Topic:      TopicRevenueUpdated,
		Payload:    []byte(`{"creatorId":"creator-1","platform":"youtube","amount":250.5}`),
		ReceivedAt: time.Now(),
	}

	var payload RevenuePayload
	require.NoError(t, Decode(evt, &payload))
	assert.Equal(t, "creator-1", payload.CreatorID)
	assert.Equal(t, "youtube", payload.Platform)
	assert.InDelta(t, 250.5, payload.Amount, 1e-9)
	assert.Nil(t, payload.PreviousAmount)
}

func TestDecodeOptionalPreviousAmount(t *testing.T) {
	evt := Event{
		Topic:   TopicRevenueUpdated,
		Payload: []byte(`{"creatorId":"creator-1","platform":"youtube","amount":120,"previousAmount":100}`),
	}

	var payload RevenuePayload
	require.NoError(t, Decode(evt, &payload))
	require.NotNil(t, payload.PreviousAmount)
	assert.InDelta(t, 100, *payload.PreviousAmount, 1e-9)
}

func TestDecodeMalformedJSON(t *testing.T) {
	evt := Event{Topic: TopicRevenueUpdated, Payload: []byte(`{"creatorId":`)}

	var payload RevenuePayload
	err := Decode(evt, &payload)
	assert.ErrorContains(t, err, "malformed")
}

func TestDecodeValidationFailure(t *testing.T) {
	evt := Event{
		Topic:   TopicInvestmentCreated,
		Payload: []byte(`{"investorId":"inv-1","creatorId":"creator-1","amount":-5,"tokenAmount":1}`),
	}

	var payload InvestmentPayload
	err := Decode(evt, &payload)
	assert.ErrorContains(t, err, "invalid")
}

func TestTopicsListsEveryConsumedTopic(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"revenue.updated",
		"investment.created",
		"token.purchased",
		"user.activity",
		"platform.metrics",
	}, Topics())
}
