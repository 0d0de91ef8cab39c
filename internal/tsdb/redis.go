package tsdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/pkg/metrics"
)

// RedisStore persists points into per-series sorted sets scored by unix
// millisecond timestamp. Retention is applied as a key TTL refreshed on
// every write; range pruning inside the set is a collaborator concern.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	retries   int
	backoff   time.Duration
	maxWait   time.Duration
	logger    *zap.Logger
}

// NewRedisStore connects to Redis and returns a store honoring the
// configured bounded write retry policy.
func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		retries:   cfg.WriteRetries,
		backoff:   cfg.RetryBackoff,
		maxWait:   cfg.MaxBackoff,
		logger:    logger,
	}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type storedPoint struct {
	Tags      map[string]string  `json:"tags"`
	Fields    map[string]float64 `json:"fields"`
	Timestamp int64              `json:"ts"`
}

func (s *RedisStore) seriesKey(series string) string {
	return fmt.Sprintf("%s:ts:%s", s.keyPrefix, series)
}

// WritePoints persists points with bounded exponential backoff. On retry
// exhaustion the batch is dropped and logged; the error is still returned
// so callers can count the failure, but callers must not block ingestion
// on it.
func (s *RedisStore) WritePoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	var lastErr error
	wait := s.backoff
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
			if wait > s.maxWait {
				wait = s.maxWait
			}
		}
		if lastErr = s.writeOnce(ctx, points); lastErr == nil {
			for _, p := range points {
				metrics.PointsWritten.WithLabelValues(p.Series).Inc()
			}
			return nil
		}
	}
	for _, p := range points {
		metrics.PointsFailed.WithLabelValues(p.Series).Inc()
	}
	s.logger.Error("dropping points after write retries exhausted",
		zap.Error(lastErr),
		zap.Int("count", len(points)),
		zap.String("series", points[0].Series))
	return fmt.Errorf("time-series write failed after %d attempts: %w", s.retries+1, lastErr)
}

func (s *RedisStore) writeOnce(ctx context.Context, points []Point) error {
	pipe := s.client.Pipeline()
	for _, p := range points {
		sp := storedPoint{Tags: p.Tags, Fields: p.Fields, Timestamp: p.Timestamp.UnixMilli()}
		data, err := json.Marshal(sp)
		if err != nil {
			return fmt.Errorf("marshal point: %w", err)
		}
		key := s.seriesKey(p.Series)
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(sp.Timestamp), Member: string(data)})
		if p.Retention > 0 {
			pipe.Expire(ctx, key, p.Retention)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Query returns points for series within [from, to] in timestamp order.
func (s *RedisStore) Query(ctx context.Context, series string, from, to time.Time) ([]Point, error) {
	members, err := s.client.ZRangeByScore(ctx, s.seriesKey(series), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("time-series query failed: %w", err)
	}
	out := make([]Point, 0, len(members))
	for _, m := range members {
		var sp storedPoint
		if err := json.Unmarshal([]byte(m), &sp); err != nil {
			s.logger.Warn("skipping undecodable stored point", zap.Error(err), zap.String("series", series))
			continue
		}
		out = append(out, Point{
			Series:    series,
			Tags:      sp.Tags,
			Fields:    sp.Fields,
			Timestamp: time.UnixMilli(sp.Timestamp),
		})
	}
	return out, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
