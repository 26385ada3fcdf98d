package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tecnoico/internal/api/http/handlers"
	"tecnoico/internal/api/http/mw"
	"tecnoico/internal/metrics"
)

func BuildRouter(
	h *handlers.Handler,
	logMW *mw.LoggingMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoint not auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.ReadinessHandler)
	r.Mount("/metrics", metrics.Handler())

	// business endpoints behind the rate limiter
	public := chi.NewRouter()
	if rateLimitMW != nil {
		public.Use(rateLimitMW.Handler)
	}

	public.Route("/api", func(api chi.Router) {
		api.Post("/purchase", h.Purchase)

		api.Get("/transactions", h.ListTransactions)
		api.Get("/transactions/{id}", h.GetTransaction)
		api.Get("/prices", h.ActivePrice)
		api.Get("/prices/history", h.PriceHistory)
		api.Get("/timers", h.GetTimer)

		// write surface requires a verified token; on-chain admin
		// membership is checked per handler
		api.Group(func(protected chi.Router) {
			if jwtMW != nil {
				protected.Use(jwtMW.Handler)
			}

			protected.Get("/transactions/all", h.ListAllTransactions)
			protected.Delete("/transactions/{id}", h.DeleteTransaction)

			protected.Post("/prices", h.SetPrice)

			protected.Post("/timers", h.CreateTimer)
			protected.Put("/timers", h.UpdateTimer)
			protected.Delete("/timers", h.DeleteTimer)

			protected.Get("/stats/overview", h.StatsOverview)

			protected.Route("/admin", func(adm chi.Router) {
				adm.Get("/ico", h.ICOParams)
				adm.Post("/ico/pause", h.SetPaused)

				adm.Get("/releases", h.Releases)
				adm.Put("/releases", h.SetReleases)

				adm.Get("/admins", h.AdminSet)
				adm.Post("/admins", h.AddAdmin)
				adm.Delete("/admins", h.RemoveAdmin)
				adm.Put("/admins/super", h.ChangeSuperAdmin)
			})
		})
	})

	r.Mount("/", public)
	return r
}
