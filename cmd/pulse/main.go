// Command pulse runs the real-time analytics pipeline: it consumes domain
// events from the bus, persists time-series observations, evaluates alert
// rules, and fans live updates out to subscribed clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/creatorfi/pulse/internal/alert"
	"github.com/creatorfi/pulse/internal/auth"
	"github.com/creatorfi/pulse/internal/bus"
	"github.com/creatorfi/pulse/internal/config"
	"github.com/creatorfi/pulse/internal/dashboard"
	"github.com/creatorfi/pulse/internal/hub"
	"github.com/creatorfi/pulse/internal/pipeline"
	"github.com/creatorfi/pulse/internal/server"
	"github.com/creatorfi/pulse/internal/stream"
	"github.com/creatorfi/pulse/internal/tsdb"
	"github.com/creatorfi/pulse/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "pulse: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	var paths []string
	if configPath != "" {
		paths = append(paths, configPath)
	}
	cfg, err := config.Load(paths...)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := tsdb.NewRedisStore(cfg.Redis, log)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		// Degraded but not fatal; writes retry with their own backoff.
		log.Warn("time-series store unreachable at startup", zap.Error(err))
	}

	consumer := bus.NewKafkaConsumer(cfg.Kafka, log)
	defer consumer.Close()
	if err := probeBus(ctx, consumer, cfg.Kafka, log); err != nil {
		return err
	}
	producer := bus.NewKafkaProducer(cfg.Kafka, log)
	defer producer.Close()

	revenue := stream.NewRevenueProcessor(cfg.Stream.RevenueHistorySize, cfg.Stream.BufferTTL)
	defer revenue.Stop()
	investment := stream.NewInvestmentProcessor(cfg.Stream.BufferTTL)
	defer investment.Stop()
	token := stream.NewTokenProcessor(cfg.Stream.BufferTTL)
	defer token.Stop()
	processors := []stream.Processor{
		revenue,
		investment,
		token,
		stream.NewActivityProcessor(),
		stream.NewPlatformProcessor(),
	}

	engine := alert.NewEngine(log, alert.DefaultRules(cfg.Alerts))
	cache := dashboard.NewCache(cfg.Stream.TopN)
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	h := hub.New(cfg.WS, verifier, cache, log)

	pl := pipeline.New(consumer, processors, store, engine, cache, h, log,
		pipeline.WithProducer(producer))

	srv := server.New(cfg.HTTP, h, cache, log)

	errCh := make(chan error, 2)
	go func() {
		if err := pl.Run(ctx); err != nil && err != context.Canceled {
			errCh <- err
		}
	}()
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info("pulse pipeline started",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("environment", cfg.Environment))

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("fatal component failure", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	h.CloseAll()
	return nil
}

// probeBus surfaces bus unavailability at startup to the operator and
// retries with backoff instead of crashing.
func probeBus(ctx context.Context, consumer *bus.KafkaConsumer, cfg config.KafkaConfig, log *zap.Logger) error {
	var err error
	backoff := cfg.StartupBackoff
	for attempt := 1; attempt <= cfg.StartupRetries; attempt++ {
		if err = consumer.Probe(ctx); err == nil {
			return nil
		}
		log.Warn("event bus unavailable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("event bus unavailable after %d attempts: %w", cfg.StartupRetries, err)
}
