package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pedrolacerda/payflow/internal/application/ingest"
	"github.com/pedrolacerda/payflow/internal/application/routing"
	"github.com/pedrolacerda/payflow/internal/domain/commission"
	"github.com/pedrolacerda/payflow/internal/domain/event"
	"github.com/pedrolacerda/payflow/internal/domain/merchant"
	"github.com/pedrolacerda/payflow/internal/domain/transaction"
	"github.com/pedrolacerda/payflow/internal/infrastructure/config"
	"github.com/pedrolacerda/payflow/internal/infrastructure/observability"
	customMW "github.com/pedrolacerda/payflow/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool           *pgxpool.Pool
	RedisClient    *redis.Client
	Pipeline       *ingest.Pipeline
	Payments       *routing.InitiatePaymentUseCase
	Transactions   transaction.Repository
	Ledger         event.Ledger
	DeadLetters    event.DeadLetterRepository
	Obligations    commission.Repository
	Merchants      merchant.Repository
	Metrics        *observability.Metrics
	CORSConfig     config.CORSConfig
	WebhookSecrets map[string]string
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(customMW.SecurityHeaders())
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMW.SignatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	webhookH := NewWebhookController(deps.Pipeline)
	paymentH := NewPaymentController(deps.Payments, deps.Transactions)
	adminH := NewAdminController(deps.DeadLetters, deps.Ledger, deps.Obligations, deps.Merchants)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	// Processor webhooks, HMAC-authenticated per source.
	r.Route("/webhooks/{source}", func(r chi.Router) {
		r.Use(customMW.VerifySignature(deps.WebhookSecrets))
		r.Post("/", webhookH.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Payments
		r.Post("/payments", paymentH.Initiate)
		r.Get("/payments/{id}", paymentH.Get)
		r.Get("/payments", paymentH.List)
		r.Post("/payments/{id}/refund", paymentH.Refund)

		// Operator endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Get("/dead-letters", adminH.ListDeadLetters)
			r.Post("/dead-letters/{id}/resolve", adminH.ResolveDeadLetter)
			r.Get("/events", adminH.ListEvents)
			r.Get("/obligations", adminH.ListObligations)
			r.Get("/merchants/{id}/routing-config", adminH.GetRoutingConfig)
			r.Put("/merchants/{id}/routing-config", adminH.UpsertRoutingConfig)
		})
	})

	return r
}
