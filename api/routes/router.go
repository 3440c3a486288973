package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/settlement-engine/api/controllers"
	analyticscontrollers "github.com/angelmondragon/settlement-engine/api/controllers/analytics"
	commissioncontrollers "github.com/angelmondragon/settlement-engine/api/controllers/commissions"
	deliverycontrollers "github.com/angelmondragon/settlement-engine/api/controllers/deliveries"
	outboxcontrollers "github.com/angelmondragon/settlement-engine/api/controllers/outbox"
	payoutcontrollers "github.com/angelmondragon/settlement-engine/api/controllers/payouts"
	providercontrollers "github.com/angelmondragon/settlement-engine/api/controllers/providers"
	webhookcontrollers "github.com/angelmondragon/settlement-engine/api/controllers/webhooks"
	"github.com/angelmondragon/settlement-engine/api/middleware"
	"github.com/angelmondragon/settlement-engine/internal/analytics"
	"github.com/angelmondragon/settlement-engine/internal/settlement"
	"github.com/angelmondragon/settlement-engine/pkg/config"
	"github.com/angelmondragon/settlement-engine/pkg/db/models"
	"github.com/angelmondragon/settlement-engine/pkg/enums"
	"github.com/angelmondragon/settlement-engine/pkg/logger"
	"github.com/angelmondragon/settlement-engine/pkg/metrics"
	"github.com/angelmondragon/settlement-engine/pkg/outbox"
)

// routeStore backs HTTP idempotency and rate limiting. A nil store disables both.
type routeStore interface {
	middleware.IdempotencyStore
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
	RateLimitKey(parts ...string) string
}

type dlqStore interface {
	List(context.Context, outbox.DLQFilter) ([]models.OutboxDLQ, error)
	Requeue(context.Context, uuid.UUID) (*models.OutboxDLQ, error)
}

// dlqStoreOf keeps an unwired repository a nil interface so the handlers
// answer 500 instead of dereferencing it.
func dlqStoreOf(services *settlement.Services) dlqStore {
	if services.DLQ == nil {
		return nil
	}
	return services.DLQ
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	httpMetrics *metrics.HTTPMetrics,
	readiness map[string]controllers.Pinger,
	store routeStore,
	services *settlement.Services,
	analyticsService analytics.Service,
) http.Handler {
	if services == nil {
		services = &settlement.Services{}
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, httpMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	r.Handle("/metrics", promhttp.Handler())

	webhookLimit := middleware.NewRateLimitPolicy("payout-webhook", cfg.RateLimit.Window, cfg.RateLimit.WebhookPerIP, middleware.ClientIPKey)
	apiLimit := middleware.NewRateLimitPolicy("api", cfg.RateLimit.Window, cfg.RateLimit.APIPerActor, middleware.ActorKey)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit(webhookLimit, store, logg))
		r.Post("/payouts", webhookcontrollers.PayoutCallback(services.Payouts, cfg.Webhooks.PayoutSecret, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(apiLimit, store, logg))
		r.Use(middleware.Idempotency(store, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliverycontrollers.List(services.Deliveries, logg))
			r.Get("/{deliveryId}", deliverycontrollers.Get(services.Deliveries, logg))
			r.Get("/{deliveryId}/history", deliverycontrollers.History(services.Deliveries, logg))

			r.With(middleware.RequireRole(logg, enums.ActorRoleProviderStaff, enums.ActorRolePartner, enums.ActorRoleAdmin)).
				Post("/{deliveryId}/transition", deliverycontrollers.Transition(services.Deliveries, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleProviderStaff, enums.ActorRoleAdmin)).
				Post("/{deliveryId}/assign-partner", deliverycontrollers.AssignPartner(services.Deliveries, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer)).
				Post("/{deliveryId}/confirm", deliverycontrollers.Confirm(services.Confirmation, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleBuyer, enums.ActorRoleAdmin)).
				Post("/{deliveryId}/timeout/suspend", deliverycontrollers.SuspendTimeout(services.Confirmation, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleProviderStaff, enums.ActorRoleAdmin))
			r.Get("/payouts", payoutcontrollers.List(services.Payouts, logg))
			r.Get("/payouts/{payoutId}", payoutcontrollers.Get(services.Payouts, logg))
			r.Get("/providers/{providerId}/stats", providercontrollers.Stats(services.Stats, logg))
			r.Get("/analytics/settlement", analyticscontrollers.SettlementAnalytics(analyticsService, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
		r.Use(middleware.RateLimit(apiLimit, store, logg))
		r.Use(middleware.Idempotency(store, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Route("/deliveries/{deliveryId}", func(r chi.Router) {
			r.Post("/assign-provider", deliverycontrollers.AssignProvider(services.Deliveries, logg))
			r.Post("/force-advance", deliverycontrollers.ForceAdvance(services.Deliveries, logg))
			r.Post("/timeout/resume", deliverycontrollers.ResumeTimeout(services.Confirmation, logg))
			r.Post("/dispute/resolve", deliverycontrollers.ResolveDispute(services.Confirmation, logg))
			r.Get("/ledger", deliverycontrollers.Ledger(services.Ledger, logg))
			r.Get("/commission", deliverycontrollers.Commission(services.Commission, logg))
			r.Get("/escrow", deliverycontrollers.Escrow(services.Escrow, logg))
		})

		r.Post("/payouts/sweep", payoutcontrollers.Sweep(services.Payouts, logg))
		r.Route("/payouts/{payoutId}", func(r chi.Router) {
			r.Post("/process", payoutcontrollers.Process(services.Payouts, logg))
			r.Post("/complete", payoutcontrollers.Complete(services.Payouts, logg))
			r.Post("/fail", payoutcontrollers.Fail(services.Payouts, logg))
			r.Post("/cancel", payoutcontrollers.Cancel(services.Payouts, logg))
			r.Post("/release-claims", payoutcontrollers.ReleaseClaims(services.Payouts, logg))
			r.Get("/ledger", payoutcontrollers.Ledger(services.Ledger, logg))
		})

		r.Route("/providers/{providerId}", func(r chi.Router) {
			r.Get("/", providercontrollers.Get(services.Providers, logg))
			r.Put("/", providercontrollers.UpsertProvider(services.Providers, logg))
			r.Put("/members/{userId}", providercontrollers.UpsertMember(services.Providers, logg))
			r.Post("/stats/rollup", providercontrollers.RollupStats(services.Stats, logg))
		})

		r.Post("/commissions/{commissionId}/adjustments", commissioncontrollers.Adjust(services.Commission, logg))

		r.Get("/outbox/dlq", outboxcontrollers.ListDLQ(dlqStoreOf(services), logg))
		r.Post("/outbox/dlq/{entryId}/requeue", outboxcontrollers.RequeueDLQ(dlqStoreOf(services), logg))
	})

	return r
}
