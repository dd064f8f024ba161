package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/rentflow-backend/api/controllers"
	"github.com/angelmondragon/rentflow-backend/api/middleware"
	"github.com/angelmondragon/rentflow-backend/internal/assignment"
	"github.com/angelmondragon/rentflow-backend/internal/inventory"
	"github.com/angelmondragon/rentflow-backend/internal/pricing"
	"github.com/angelmondragon/rentflow-backend/internal/rentals"
	"github.com/angelmondragon/rentflow-backend/pkg/config"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/redis"
)

// Params wires the router. Redis is optional; without it idempotency and
// rate limiting are disabled.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         controllers.Pinger
	Redis      *redis.Client
	Inventory  inventory.Service
	Pricing    pricing.Service
	Jobs       rentals.Service
	Assignment assignment.Service
	Metrics    *metrics.HTTPMetrics
	Gatherer   prometheus.Gatherer
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger

	var idempotencyStore redis.IdempotencyStore
	var limiter *redis.Client
	readiness := map[string]controllers.Pinger{"db": p.DB}
	if p.Redis != nil {
		idempotencyStore = p.Redis
		limiter = p.Redis
		readiness["redis"] = p.Redis
	}
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, p.Metrics),
		middleware.CORS(cfg.HTTP.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	policy := middleware.NewRateLimitPolicy("api", cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitIP, cfg.HTTP.RateLimitSubject)
	idempotent := middleware.Idempotency(idempotencyStore, middleware.DefaultIdempotencyTTL, logg)
	can := func(c enums.Capability) func(http.Handler) http.Handler {
		return middleware.RequireCapability(c, logg)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		if limiter != nil {
			r.Use(middleware.RateLimit(policy, limiter, logg))
		}

		r.With(can(enums.CapabilityReserve)).Post("/quotes", controllers.Quote(p.Pricing, logg))

		r.Route("/reservations", func(r chi.Router) {
			r.With(can(enums.CapabilityReserve), idempotent).Post("/", controllers.Reserve(p.Inventory, logg))
			r.With(can(enums.CapabilityCancel)).Post("/{reservationId}/release", controllers.Release(p.Inventory, logg))
		})

		r.Route("/jobs", func(r chi.Router) {
			r.With(can(enums.CapabilityReserve), idempotent).Post("/", controllers.CreateJob(p.Jobs, p.Inventory, p.Pricing, logg))
			r.Route("/{jobId}", func(r chi.Router) {
				r.Get("/", controllers.GetJob(p.Jobs, logg))
				r.With(can(enums.CapabilityCancel)).Post("/dispatch", controllers.Dispatch(p.Assignment, logg))
				r.With(can(enums.CapabilityCancel)).Post("/offers", controllers.OfferTo(p.Assignment, logg))
				r.With(can(enums.CapabilityRespondAsAgent)).Post("/start", controllers.StartJob(p.Jobs, logg))
				r.With(can(enums.CapabilityRespondAsAgent)).Post("/complete", controllers.CompleteJob(p.Jobs, logg))
				r.With(middleware.RequireAnyCapability(logg, enums.CapabilityReserve, enums.CapabilityCancel)).
					Post("/cancel", controllers.CancelJob(p.Assignment, p.Jobs, logg))
			})
		})

		r.With(can(enums.CapabilityRespondAsAgent)).Post("/offers/{offerId}/respond", controllers.RespondToOffer(p.Assignment, logg))

		r.Route("/admin", func(r chi.Router) {
			r.Use(can(enums.CapabilityCancel))
			r.Post("/items", controllers.RegisterItem(p.Inventory, logg))
			r.Post("/items/{itemId}/retire", controllers.RetireItem(p.Inventory, logg))
			r.Post("/pricing-rules", controllers.CreatePricingRule(p.Pricing, logg))
			r.Post("/agents", controllers.RegisterAgent(p.Assignment, logg))
		})
	})

	return r
}
