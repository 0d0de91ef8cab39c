// Package router dispatches raw bus events to the metric stream handlers
// registered for their topic.
package router

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/pkg/metrics"
)

// Handler consumes a routed event. Implementations validate their own
// payload schema via event.Decode and report a validation failure as an
// error; the router drops the event and logs the reason.
type Handler interface {
	Handle(ctx context.Context, evt event.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt event.Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Router holds the topic→handler table. Registration happens at startup;
// Route is safe for concurrent use afterwards.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *zap.Logger
}

// New creates an empty router.
func New(logger *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Register adds a handler for topic. Multiple handlers per topic run in
// registration order.
func (r *Router) Register(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = append(r.handlers[topic], h)
	r.logger.Info("registered topic handler", zap.String("topic", topic))
}

// Topics returns every topic with at least one registered handler.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		topics = append(topics, t)
	}
	return topics
}

// Route dispatches the event to every handler registered for its topic.
// Unknown topics are dropped and logged at debug: new producers roll out
// before their consumers, so this is expected. A failing handler never
// prevents the remaining handlers from seeing the event, and Route itself
// never returns an error to the consume loop.
func (r *Router) Route(ctx context.Context, evt event.Event) error {
	r.mu.RLock()
	handlers, ok := r.handlers[evt.Topic]
	r.mu.RUnlock()

	if !ok {
		metrics.EventsDropped.WithLabelValues(evt.Topic, "unknown_topic").Inc()
		r.logger.Debug("dropping event for unknown topic", zap.String("topic", evt.Topic))
		return nil
	}

	for _, h := range handlers {
		if err := h.Handle(ctx, evt); err != nil {
			metrics.EventsDropped.WithLabelValues(evt.Topic, "invalid_payload").Inc()
			r.logger.Warn("dropping event",
				zap.String("topic", evt.Topic),
				zap.String("key", evt.Key),
				zap.Error(err))
		}
	}
	return nil
}
