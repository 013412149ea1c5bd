package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/comercio-backoffice/api/controllers"
	"github.com/angelmondragon/comercio-backoffice/api/middleware"
	"github.com/angelmondragon/comercio-backoffice/internal/plans"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	pkgredis "github.com/angelmondragon/comercio-backoffice/pkg/redis"
)

// Params collects what the HTTP surface depends on.
type Params struct {
	Config        *config.Config
	Logger        *logger.Logger
	Readiness     map[string]controllers.Pinger
	Metrics       http.Handler
	Idempotency   pkgredis.IdempotencyStore
	Plans         plans.Lister
	Subscriptions subscriptions.Service
}

func NewRouter(p Params) http.Handler {
	cfg, logg := p.Config, p.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSOrigins),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	idempotent := middleware.Idempotency(p.Idempotency, cfg.Redis.IdempotencyTTL, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Readiness))
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.TenantContext(logg))

		r.Get("/plans", controllers.PlansList(p.Plans, logg))
		r.Route("/subscription", func(r chi.Router) {
			r.Get("/", controllers.SubscriptionEntitlement(p.Subscriptions, logg))
			r.Get("/records", controllers.SubscriptionHistory(p.Subscriptions, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireBillingRole(logg))
				r.With(idempotent).Post("/records", controllers.SubscriptionRequestChange(p.Subscriptions, logg))
				r.With(idempotent).Post("/records/{recordId}/cancel", controllers.SubscriptionCancel(p.Subscriptions, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequirePlatformAdmin(logg))
		r.Route("/subscription-records/{recordId}", func(r chi.Router) {
			r.With(idempotent).Post("/verify", controllers.AdminSubscriptionVerify(p.Subscriptions, logg))
			r.With(idempotent).Post("/reject", controllers.AdminSubscriptionReject(p.Subscriptions, logg))
		})
	})

	return r
}
