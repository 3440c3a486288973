package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-engine/internal/analytics/router"
	"github.com/angelmondragon/settlement-engine/internal/analytics/worker"
	"github.com/angelmondragon/settlement-engine/internal/analytics/writer"
	"github.com/angelmondragon/settlement-engine/pkg/bigquery"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/instance"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/outbox/idempotency"
	"github.com/angelmondragon/settlement-engine/pkg/pubsub"
	"github.com/angelmondragon/settlement-engine/pkg/redis"
)

const (
	serviceKind = "analytics-worker"
	// flushTimeout bounds the final BigQuery insert once the subscription
	// has stopped delivering.
	flushTimeout = 15 * time.Second
)

func main() {
	boot := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Debug(boot, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(boot, "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(boot, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "analytics worker failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "analytics worker shut down")
}

// run wires the subscription to the BigQuery writer and blocks until ctx is
// cancelled. Every client opened here is closed before it returns.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			err = multierr.Append(err, closers[i].Close())
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	closers = append(closers, redisClient)

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	closers = append(closers, pubsubClient)

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		return fmt.Errorf("bootstrap bigquery: %w", err)
	}
	closers = append(closers, bqClient)

	subscription := pubsubClient.SettlementSubscription()
	if subscription == nil {
		return errors.New("settlement subscription not configured")
	}

	guard, err := idempotency.NewGuard(redisClient, cfg.Eventing.ClaimLease, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return fmt.Errorf("idempotency guard: %w", err)
	}

	rows, err := writer.New(bqClient, writer.Config{SettlementTable: cfg.BigQuery.SettlementTable})
	if err != nil {
		return fmt.Errorf("settlement writer: %w", err)
	}

	handler, err := router.NewRouter(rows, logg, nil)
	if err != nil {
		return fmt.Errorf("event router: %w", err)
	}

	service, err := worker.NewService(subscription, handler, guard, logg)
	if err != nil {
		return fmt.Errorf("worker service: %w", err)
	}

	logg.Info(ctx, "analytics worker ready")
	runErr := service.Run(ctx)

	// The run context is already cancelled here; buffered rows still need a
	// live deadline to reach BigQuery.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if flushErr := rows.Flush(flushCtx); flushErr != nil {
		logg.Error(flushCtx, "failed to flush buffered settlement rows", flushErr)
	}
	return runErr
}
