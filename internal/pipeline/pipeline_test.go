package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/auth"
	"github.com/creatorfi/pulse/internal/bus"
	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/internal/dashboard"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/hub"
	"github.com/creatorfi/pulse/internal/stream"
	"github.com/creatorfi/pulse/internal/tsdb"
)

// captureProducer records republished alerts.
type captureProducer struct {
	mu        sync.Mutex
	published []capturedMessage
}

type capturedMessage struct {
	Topic   string
	Key     string
	Payload interface{}
}

func (c *captureProducer) Publish(_ context.Context, topic, key string, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, capturedMessage{Topic: topic, Key: key, Payload: payload})
	return nil
}

func (c *captureProducer) Close() error { return nil }

func (c *captureProducer) messages() []capturedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]capturedMessage, len(c.published))
	copy(out, c.published)
	return out
}

type fixture struct {
	pipeline *Pipeline
	bus      *bus.MemoryBus
	store    *tsdb.MemoryStore
	cache    *dashboard.Cache
	producer *captureProducer
	hub      *hub.Hub
}

func defaultAlertsConfig() config.AlertsConfig {
	return config.AlertsConfig{
		RevenueDeviationFraction: 0.30,
		RevenueCooldown:          time.Hour,
		LargeInvestmentAmount:    10000,
		PlatformResponseTimeMs:   2000,
		PlatformErrorRate:        0.05,
		PlatformCPUUsage:         0.80,
		PlatformCooldown:         5 * time.Minute,
		VolatilityFraction:       0.15,
		VolatilityCooldown:       30 * time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	revenue := stream.NewRevenueProcessor(20, time.Hour)
	t.Cleanup(revenue.Stop)
	investment := stream.NewInvestmentProcessor(time.Hour)
	t.Cleanup(investment.Stop)
	token := stream.NewTokenProcessor(time.Hour)
	t.Cleanup(token.Stop)

	memBus := bus.NewMemoryBus()
	store := tsdb.NewMemoryStore()
	cache := dashboard.NewCache(5)
	producer := &captureProducer{}
	verifier := &auth.StaticVerifier{Identities: map[string]auth.Identity{}}
	h := hub.New(config.WSConfig{SendQueueSize: 16, PingInterval: 30 * time.Second, IdleThreshold: 15 * time.Minute},
		verifier, cache, logger)

	engine := alert.NewEngine(logger, alert.DefaultRules(defaultAlertsConfig()))
	processors := []stream.Processor{
		revenue, investment, token,
		stream.NewActivityProcessor(),
		stream.NewPlatformProcessor(),
	}

	return &fixture{
		pipeline: New(memBus, processors, store, engine, cache, h, logger, WithProducer(producer)),
		bus:      memBus,
		store:    store,
		cache:    cache,
		producer: producer,
		hub:      h,
	}
}

func route(t *testing.T, f *fixture, topic string, payload map[string]interface{}) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	err = f.pipeline.Router().Route(context.Background(), event.Event{
		Topic:      topic,
		Payload:    raw,
		ReceivedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestRouterCoversAllTopics(t *testing.T) {
	f := newFixture(t)
	assert.ElementsMatch(t, event.Topics(), f.pipeline.Router().Topics())
}

func TestRevenueEventPersistsAndUpdatesCache(t *testing.T) {
	f := newFixture(t)

	route(t, f, event.TopicRevenueUpdated, map[string]interface{}{
		"creatorId": "creator-1", "platform": "youtube", "amount": 250.0,
	})

	points, err := f.store.Query(context.Background(), "revenue", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 250, points[0].Fields["amount"], 1e-9)

	summary, ok := f.cache.Snapshot("revenue")
	require.True(t, ok)
	assert.InDelta(t, 250, summary.Last, 1e-9)
}

func TestLargeInvestmentDispatchesAlert(t *testing.T) {
	f := newFixture(t)

	route(t, f, event.TopicInvestmentCreated, map[string]interface{}{
		"investorId": "inv-1", "creatorId": "creator-1", "amount": 15000.0, "tokenAmount": 150.0,
	})

	// Republished on the bus for downstream consumers.
	msgs := f.producer.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, AlertsFiredTopic, msgs[0].Topic)
	fired, ok := msgs[0].Payload.(*alert.Event)
	require.True(t, ok)
	assert.Equal(t, alert.RuleLargeInvestment, fired.RuleName)
	assert.Equal(t, alert.SeverityHigh, fired.Severity)

	// Annotated in the time-series store.
	annotations, err := f.store.Query(context.Background(), "alerts", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, annotations, 1)
	assert.Equal(t, alert.RuleLargeInvestment, annotations[0].Tags["rule"])
}

func TestSmallInvestmentDoesNotAlert(t *testing.T) {
	f := newFixture(t)

	route(t, f, event.TopicInvestmentCreated, map[string]interface{}{
		"investorId": "inv-1", "creatorId": "creator-1", "amount": 500.0, "tokenAmount": 5.0,
	})

	assert.Empty(t, f.producer.messages())
}

func TestInvestmentTotalsAccumulateInCache(t *testing.T) {
	f := newFixture(t)

	for _, amount := range []float64{1000.0, 2500.0} {
		route(t, f, event.TopicInvestmentCreated, map[string]interface{}{
			"investorId": "inv-1", "creatorId": "creator-1", "amount": amount, "tokenAmount": 1.0,
		})
	}

	total, count, ok := f.cache.EntitySummary("investment", "creator-1")
	require.True(t, ok)
	assert.InDelta(t, 3500, total, 1e-9)
	assert.EqualValues(t, 2, count)
}

func TestInvalidPayloadIsDroppedNotFatal(t *testing.T) {
	f := newFixture(t)

	// Missing creatorId: the handler reports a validation error and the
	// router drops the event without surfacing it to the consume loop.
	route(t, f, event.TopicRevenueUpdated, map[string]interface{}{
		"platform": "youtube", "amount": 100.0,
	})

	points, err := f.store.Query(context.Background(), "revenue", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, points)

	// The pipeline keeps working afterwards.
	route(t, f, event.TopicRevenueUpdated, map[string]interface{}{
		"creatorId": "creator-1", "platform": "youtube", "amount": 100.0,
	})
	points, err = f.store.Query(context.Background(), "revenue", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestUnknownTopicIsDropped(t *testing.T) {
	f := newFixture(t)

	err := f.pipeline.Router().Route(context.Background(), event.Event{
		Topic:      "orders.created",
		Payload:    []byte(`{}`),
		ReceivedAt: time.Now(),
	})
	assert.NoError(t, err)
}

func TestRunConsumesFromBus(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.pipeline.Run(ctx)
	}()

	payload, err := json.Marshal(map[string]interface{}{
		"creatorId": "creator-1", "platform": "youtube", "amount": 300.0,
	})
	require.NoError(t, err)
	f.bus.PublishRaw(event.TopicRevenueUpdated, "creator-1", payload)

	require.Eventually(t, func() bool {
		points, err := f.store.Query(context.Background(), "revenue", time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
		return err == nil && len(points) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop on context cancellation")
	}
}
