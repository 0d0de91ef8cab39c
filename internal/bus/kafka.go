package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/internal/event"
	"github.com/creatorfi/pulse/pkg/metrics"
)

// KafkaConsumer reads each topic on its own reader goroutine, which gives
// the per-topic ordering guarantee without cross-topic serialization.
type KafkaConsumer struct {
	cfg     config.KafkaConfig
	logger  *zap.Logger
	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaConsumer creates a consumer for the configured brokers.
func NewKafkaConsumer(cfg config.KafkaConfig, logger *zap.Logger) *KafkaConsumer {
	return &KafkaConsumer{cfg: cfg, logger: logger}
}

// Probe dials the first broker to surface bus unavailability at startup.
func (c *KafkaConsumer) Probe(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka broker unreachable: %w", err)
	}
	return conn.Close()
}

// Run consumes every topic until ctx is cancelled. In-flight events finish
// processing before the readers shut down.
func (c *KafkaConsumer) Run(ctx context.Context, topics []string, handler Handler) error {
	var wg sync.WaitGroup
	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  fmt.Sprintf("%s-%s", c.cfg.GroupID, topic),
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				c.logger.Error(fmt.Sprintf(msg, args...))
			}),
		})
		c.mu.Lock()
		c.readers = append(c.readers, reader)
		c.mu.Unlock()

		wg.Add(1)
		go func(topic string, reader *kafka.Reader) {
			defer wg.Done()
			c.consumeLoop(ctx, topic, reader, handler)
		}(topic, reader)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, topic string, reader *kafka.Reader, handler Handler) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("failed to read message", zap.Error(err), zap.String("topic", topic))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		metrics.EventsConsumed.WithLabelValues(topic).Inc()
		evt := event.Event{
			Topic:      msg.Topic,
			Key:        string(msg.Key),
			Payload:    msg.Value,
			ReceivedAt: msg.Time,
		}
		if evt.ReceivedAt.IsZero() {
			evt.ReceivedAt = time.Now()
		}
		if err := handler(ctx, evt); err != nil {
			// Single malformed event never stops the pipeline.
			c.logger.Error("event handler failed",
				zap.Error(err),
				zap.String("topic", topic),
				zap.Int64("offset", msg.Offset))
		}
	}
}

// Close shuts down all topic readers.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var lastErr error
	for _, r := range c.readers {
		if err := r.Close(); err != nil {
			lastErr = err
			c.logger.Error("failed to close reader", zap.Error(err))
		}
	}
	return lastErr
}

// KafkaProducer publishes derived events, one lazily created writer per topic.
type KafkaProducer struct {
	cfg     config.KafkaConfig
	logger  *zap.Logger
	mu      sync.RWMutex
	writers map[string]*kafka.Writer
}

// NewKafkaProducer creates a producer for the configured brokers.
func NewKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{cfg: cfg, logger: logger, writers: make(map[string]*kafka.Writer)}
}

func (p *KafkaProducer) getWriter(topic string) *kafka.Writer {
	p.mu.RLock()
	w, ok := p.writers[topic]
	p.mu.RUnlock()
	if ok {
		return w
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.writers[topic]; ok {
		return w
	}
	w = &kafka.Writer{
		Addr:         kafka.TCP(p.cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.CRC32Balancer{},
		RequiredAcks: kafka.RequireOne,
		Compression:  kafka.Snappy,
	}
	p.writers[topic] = w
	return w
}

// Publish marshals payload to JSON and writes it keyed for partitioning.
func (p *KafkaProducer) Publish(ctx context.Context, topic, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return p.getWriter(topic).WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	})
}

// Close closes all topic writers.
func (p *KafkaProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var lastErr error
	for _, w := range p.writers {
		if err := w.Close(); err != nil {
			lastErr = err
			p.logger.Error("failed to close writer", zap.Error(err))
		}
	}
	return lastErr
}
