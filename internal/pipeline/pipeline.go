// Package pipeline wires the router, stream processors, time-series
// store, alert engine, dashboard cache, and broadcast hub into the
// ingestion path.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/bus"
	"github.com/creatorfi/pulse/internal/dashboard"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/internal/hub"
	"github.com/creatorfi/pulse/internal/router"
	"github.com/creatorfi/pulse/internal/stream"
	"github.com/creatorfi/pulse/internal/tsdb"
	"github.com/creatorfi/pulse/pkg/metrics"
)

// AlertsTopic is the hub topic alert events are broadcast on.
const AlertsTopic = "alerts"

// AlertsFiredTopic is the bus topic fired alerts are republished to for
// downstream consumers (notification services, audit).
const AlertsFiredTopic = "alerts.fired"

// Pipeline is the composed ingestion path. Construct with New, then Run.
type Pipeline struct {
	router     *router.Router
	processors []stream.Processor
	store      tsdb.Store
	engine     *alert.Engine
	cache      *dashboard.Cache
	hub        *hub.Hub
	producer   bus.Producer
	consumer   bus.Consumer
	logger     *zap.Logger

	housekeeping time.Duration
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithProducer republishes fired alerts onto the bus.
func WithProducer(p bus.Producer) Option {
	return func(pl *Pipeline) { pl.producer = p }
}

// WithHousekeepingInterval overrides the cooldown-pruning cadence.
func WithHousekeepingInterval(d time.Duration) Option {
	return func(pl *Pipeline) { pl.housekeeping = d }
}

// New assembles the pipeline and registers every processor's topic with
// the router.
func New(
	consumer bus.Consumer,
	processors []stream.Processor,
	store tsdb.Store,
	engine *alert.Engine,
	cache *dashboard.Cache,
	h *hub.Hub,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		router:       router.New(logger),
		processors:   processors,
		store:        store,
		engine:       engine,
		cache:        cache,
		hub:          h,
		consumer:     consumer,
		logger:       logger,
		housekeeping: time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	for _, proc := range processors {
		proc := proc
		p.router.Register(proc.Topic(), router.HandlerFunc(func(ctx context.Context, evt event.Event) error {
			return p.handle(ctx, proc, evt)
		}))
	}
	return p
}

// Router exposes the topic table, mainly for tests.
func (p *Pipeline) Router() *router.Router { return p.router }

// Run consumes the bus until ctx is cancelled. In-flight events finish
// before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	go p.housekeepingLoop(ctx)
	p.hub.StartReaper(ctx)
	return p.consumer.Run(ctx, p.router.Topics(), p.router.Route)
}

func (p *Pipeline) housekeepingLoop(ctx context.Context) {
	ticker := time.NewTicker(p.housekeeping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pruned := p.engine.PruneExpired(); pruned > 0 {
				p.logger.Debug("pruned expired alert cooldowns", zap.Int("count", pruned))
			}
		}
	}
}

// handle runs one event through process → persist → alert → cache → broadcast.
// Persistence, alerting, and broadcast fail independently; there is no
// transaction across them.
func (p *Pipeline) handle(ctx context.Context, proc stream.Processor, evt event.Event) error {
	start := time.Now()
	res, err := proc.Process(ctx, evt)
	if err != nil {
		return err
	}

	if len(res.Points) > 0 {
		// A write failure is already retried and logged by the store
		// client; an exhausted write never stops ingestion.
		if err := p.store.WritePoints(ctx, res.Points); err != nil {
			p.logger.Warn("time-series write dropped", zap.String("topic", evt.Topic), zap.Error(err))
		}
		for _, point := range res.Points {
			p.cache.Update(point.Series, point)
		}
	}

	for _, check := range res.Alerts {
		fired, err := p.engine.Evaluate(check.Rule, check.Value, check.Context)
		if err != nil {
			p.logger.Error("alert evaluation failed", zap.String("rule", check.Rule), zap.Error(err))
			continue
		}
		if fired != nil {
			p.dispatchAlert(ctx, fired)
		}
	}

	for _, b := range res.Broadcasts {
		data := b.Data
		if b.Type == "new_investment" && b.EntityID != "" {
			if total, count, ok := p.cache.EntitySummary("investment", b.EntityID); ok {
				data["totalRaised"] = total
				data["investmentCount"] = count
			}
		}
		if b.EntityID != "" {
			p.hub.BroadcastToEntity(b.Topic, b.EntityID, b.Type, data)
		} else {
			p.hub.Broadcast(b.Topic, b.Type, data)
		}
	}

	metrics.ProcessingLatency.WithLabelValues(evt.Topic).Observe(time.Since(start).Seconds())
	return nil
}

// dispatchAlert fans a fired alert out to subscribed clients, annotates
// the time-series store, and republishes it on the bus. Each leg is
// best-effort and logged independently.
func (p *Pipeline) dispatchAlert(ctx context.Context, fired *alert.Event) {
	p.logger.Warn("alert fired",
		zap.String("rule", fired.RuleName),
		zap.String("severity", string(fired.Severity)),
		zap.Any("context", fired.Context))

	p.hub.Broadcast(AlertsTopic, hub.MsgAlert, fired)

	annotation := tsdb.Point{
		Series: "alerts",
		Tags: map[string]string{
			"rule":     fired.RuleName,
			"severity": string(fired.Severity),
		},
		Fields:    map[string]float64{"fired": 1},
		Timestamp: fired.FiredAt,
		Retention: 30 * 24 * time.Hour,
	}
	if err := p.store.WritePoints(ctx, []tsdb.Point{annotation}); err != nil {
		p.logger.Warn("alert annotation write dropped", zap.Error(err))
	}

	if p.producer != nil {
		if err := p.producer.Publish(ctx, AlertsFiredTopic, fired.RuleName, fired); err != nil {
			p.logger.Error("failed to republish alert", zap.Error(err))
		}
	}
}
