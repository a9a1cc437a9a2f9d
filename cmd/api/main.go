package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/application/routing"
	"github.com/pedrolacerda/payflow/internal/bootstrap"
	"github.com/pedrolacerda/payflow/internal/controller"
	infraRedis "github.com/pedrolacerda/payflow/internal/infrastructure/redis"
	"github.com/pedrolacerda/payflow/internal/processors"
	"github.com/pedrolacerda/payflow/internal/repository/postgres"
)

func main() {
	ctx := context.Background()

	app, err := bootstrap.New(ctx, "payflow-api", "payflow")
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

	// --- Routing engine and payments ---
	adapters := processors.NewFactory()
	engine := routing.NewEngine(merchants, transactions, ledger, txManager, app.Logger)
	payments := routing.NewInitiatePaymentUseCase(engine, adapters, pipeline, transactions,
		app.Config.Payment.CallTimeout, app.Logger)

	// --- Build router ---
	router := controller.NewRouter(controller.RouterDeps{
		Pool:           app.Pool,
		RedisClient:    app.Redis,
		Pipeline:       pipeline,
		Payments:       payments,
		Transactions:   transactions,
		Ledger:         ledger,
		DeadLetters:    deadLetters,
		Obligations:    obligations,
		Merchants:      merchants,
		Metrics:        app.Metrics,
		CORSConfig:     app.Config.Server.CORS,
		WebhookSecrets: app.Config.Webhook.Secrets,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
