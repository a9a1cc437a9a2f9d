package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	commissionApp "github.com/pedrolacerda/payflow/internal/application/commission"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/application/routing"
	"github.com/pedrolacerda/payflow/internal/bootstrap"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	infraRedis "github.com/pedrolacerda/payflow/internal/infrastructure/redis"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/internal/repository/postgres"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "payflow-worker", "payflow_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	// --- Repositories ---
	ledger := postgres.NewEventRepository(app.Pool)
	retries := postgres.NewRetryRepository(app.Pool)
	deadLetters := postgres.NewDeadLetterRepository(app.Pool)
	transactions := postgres.NewTransactionRepository(app.Pool)
	merchants := postgres.NewMerchantRepository(app.Pool)
	obligations := postgres.NewCommissionRepository(app.Pool)
	txManager := postgres.NewTxManager(app.Pool)

	// --- Ingestion pipeline ---
	producer := infraRedis.NewStreamProducer(app.Redis)
	guard := ingest.NewGuard(ledger)
	scheduler := ingest.NewScheduler(retries, deadLetters, ledger, producer, app.Logger)
	pipeline := ingest.NewPipeline(guard, scheduler, ledger, retries, txManager,
		app.Config.Pipeline.StaleClaimPeriod, app.Logger)
	routing.RegisterLifecycleHandlers(pipeline, transactions)

	// --- Commission collector ---
	adapters := processors.NewFactory()
	collector := commissionApp.NewCollector(merchants, transactions, obligations, deadLetters,
		adapters, txManager, app.Config.Payment.CallTimeout, app.Logger)

	// --- Event stream consumer ---
	workerCfg := app.Config.Worker
	consumer := infraRedis.NewStreamConsumer(
		app.Redis,
		infraRedis.EventStream,
		workerCfg.ConsumerGroup,
		app.Config.InstanceID,
		workerCfg.BatchSize,
		workerCfg.BlockDuration,
	)
	if err := consumer.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group (may already exist)")
	}

	app.Logger.Info().
		Str("stream", infraRedis.EventStream).
		Str("group", workerCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Event ingestor (reads deliveries from Redis Streams).
	g.Go(func() error {
		return runEventIngestor(gCtx, app, consumer, pipeline)
	})

	// 2. Retry poller (re-admits due retry tasks).
	g.Go(func() error {
		return runRetryPoller(gCtx, app, pipeline)
	})

	// 3. Crash recovery (frees orphaned processing claims).
	g.Go(func() error {
		return runRecovery(gCtx, app, pipeline)
	})

	// 4. Commission schedules (creates and settles obligations).
	g.Go(func() error {
		return runCommissionSchedules(gCtx, app, collector)
	})

	// 5. Settlement retries for failed collections.
	g.Go(func() error {
		return runSettlementPoller(gCtx, app, collector)
	})

	// 6. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runEventIngestor(
	ctx context.Context,
	app *bootstrap.App,
	consumer *infraRedis.StreamConsumer,
	pipeline *ingest.Pipeline,
) error {
	logger := app.Logger
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		streams, err := consumer.Read(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				source, eventID, eventType, payload, err := infraRedis.DecodeEventMessage(msg)
				if err != nil {
					logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Malformed stream message, dropping")
					consumer.Ack(ctx, msg.ID)
					continue
				}

				e, err := event.New(source, eventID, eventType, payload)
				if err != nil {
					logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Invalid event in stream message, dropping")
					consumer.Ack(ctx, msg.ID)
					continue
				}

				// The guard makes reprocessing after a crashed ack harmless, so
				// acking after Process is always safe.
				if _, err := pipeline.Process(ctx, e); err != nil {
					// Retry or dead letter is already recorded; the message is done.
					logger.Debug().Err(err).Str("event_id", eventID).Msg("Event processing failed")
					app.Metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.EventStream, "failed").Inc()
				} else {
					app.Metrics.WorkerMessagesProcessed.WithLabelValues(infraRedis.EventStream, "success").Inc()
				}
				consumer.Ack(ctx, msg.ID)
			}
		}
	}
}

func runRetryPoller(ctx context.Context, app *bootstrap.App, pipeline *ingest.Pipeline) error {
	return runLocked(ctx, app, "retry-poller", app.Config.Pipeline.RetryPollInterval, func(ctx context.Context) error {
		n, err := pipeline.RunDue(ctx, app.Config.Pipeline.RetryBatchSize)
		if err != nil {
			return err
		}
		if n > 0 {
			app.Logger.Info().Int("processed", n).Msg("Retry pass complete")
		}
		return nil
	})
}

func runRecovery(ctx context.Context, app *bootstrap.App, pipeline *ingest.Pipeline) error {
	return runLocked(ctx, app, "claim-recovery", app.Config.Pipeline.RecoveryInterval, func(ctx context.Context) error {
		n, err := pipeline.Recover(ctx, app.Config.Pipeline.RetryBatchSize)
		if err != nil {
			return err
		}
		if n > 0 {
			app.Metrics.StaleClaimsFreed.Add(float64(n))
			app.Logger.Warn().Int("recovered", n).Msg("Recovered orphaned processing claims")
		}
		return nil
	})
}

func runCommissionSchedules(ctx context.Context, app *bootstrap.App, collector *commissionApp.Collector) error {
	return runLocked(ctx, app, "commission-schedule", app.Config.Commission.ScheduleInterval, func(ctx context.Context) error {
		for _, schedule := range dueSchedules(time.Now()) {
			if err := collector.RunSchedule(ctx, schedule); err != nil {
				app.Logger.Error().Err(err).Str("schedule", string(schedule)).Msg("Commission schedule failed")
			}
		}
		return nil
	})
}

func runSettlementPoller(ctx context.Context, app *bootstrap.App, collector *commissionApp.Collector) error {
	return runLocked(ctx, app, "settlement-poller", app.Config.Commission.SettlementInterval, func(ctx context.Context) error {
		n, err := collector.RunDueSettlements(ctx, app.Config.Commission.SettlementBatch)
		if err != nil {
			return err
		}
		if n > 0 {
			app.Logger.Info().Int("settled", n).Msg("Settlement retry pass complete")
		}
		return nil
	})
}

// dueSchedules returns the collection schedules whose window the given hour
// falls into. Re-running a schedule is idempotent: covered transactions are
// skipped, so an overlap across replicas or restarts cannot double-bill.
func dueSchedules(now time.Time) []merchant.CollectionSchedule {
	schedules := []merchant.CollectionSchedule{merchant.ScheduleDaily}
	if now.Weekday() == time.Monday {
		schedules = append(schedules, merchant.ScheduleWeekly)
	}
	if now.Day() == 1 {
		schedules = append(schedules, merchant.ScheduleMonthly)
	}
	return schedules
}

// runLocked runs fn on a ticker, holding the named distributed lock for each
// pass so the work stays single-flight across worker replicas.
func runLocked(
	ctx context.Context,
	app *bootstrap.App,
	name string,
	interval time.Duration,
	fn func(ctx context.Context) error,
) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := app.Logger.With().Str("job", name).Logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		runOnce(ctx, app, name, logger, fn)
	}
}

func runOnce(ctx context.Context, app *bootstrap.App, name string, logger zerolog.Logger, fn func(ctx context.Context) error) {
	lock := infraRedis.NewDistributedLock(app.Redis, name, app.Config.Pipeline.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Lock acquisition error")
		return
	}
	if !acquired {
		// Another replica owns this pass.
		return
	}
	defer lock.Release(ctx)

	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Msg("Background pass failed")
	}
}
