// Package bus abstracts the at-least-once event bus the pipeline consumes
// from and publishes derived events to.
package bus

import (
	"context"

	"github.com/creatorfi/pulse/internal/event"
)

// Handler processes a single delivered event. A handler error is logged by
// the consumer and the offending event is dropped; consumption continues.
type Handler func(ctx context.Context, evt event.Event) error

// Consumer delivers topic-tagged events in per-topic arrival order.
type Consumer interface {
	// Run blocks, dispatching events to handler until ctx is cancelled.
	// Events for the same topic are never delivered concurrently.
	Run(ctx context.Context, topics []string, handler Handler) error
	Close() error
}

// Producer publishes derived events back onto the bus.
type Producer interface {
	Publish(ctx context.Context, topic, key string, payload interface{}) error
	Close() error
}
