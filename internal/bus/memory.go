package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/creatorfi/pulse/internal/event"
)

// MemoryBus is an in-process Consumer/Producer pair used by tests and
// local runs without a broker. Delivery preserves publish order per topic.
type MemoryBus struct {
	mu       sync.Mutex
	channels map[string]chan event.Event
	closed   bool
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{channels: make(map[string]chan event.Event)}
}

func (b *MemoryBus) channel(topic string) chan event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.channels[topic]
	if !ok {
		ch = make(chan event.Event, 1024)
		b.channels[topic] = ch
	}
	return ch
}

// Publish enqueues a JSON-encoded event for topic.
func (b *MemoryBus) Publish(_ context.Context, topic, key string, payload interface{}) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus is closed")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	b.channel(topic) <- event.Event{Topic: topic, Key: key, Payload: data, ReceivedAt: time.Now()}
	return nil
}

// PublishRaw enqueues an already-encoded payload, bypassing marshalling.
func (b *MemoryBus) PublishRaw(topic, key string, payload []byte) {
	b.channel(topic) <- event.Event{Topic: topic, Key: key, Payload: payload, ReceivedAt: time.Now()}
}

// Run drains each topic channel on its own goroutine until ctx cancellation.
func (b *MemoryBus) Run(ctx context.Context, topics []string, handler Handler) error {
	var wg sync.WaitGroup
	for _, topic := range topics {
		ch := b.channel(topic)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					_ = handler(ctx, evt)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close marks the bus closed for publishing.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
