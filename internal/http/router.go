package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/booking-holds/internal/idempotency"
	"github.com/robertarktes/booking-holds/internal/observability"
)

type RouterConfig struct {
	Auth *Authenticator
	// Limiter and Idempotency are optional.
	Limiter     Limiter
	RateLimit   int
	Idempotency *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.Auth))
		if cfg.Limiter != nil {
			r.Use(RateLimitMiddleware(cfg.Limiter, cfg.RateLimit, logger))
		}
		if cfg.Idempotency != nil {
			r.Use(cfg.Idempotency.Middleware)
		}

		r.Route("/v1/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetSnapshot)
			r.Delete("/{id}", h.DeleteRequest)
			r.Post("/{id}/cancel", h.CancelRequest)
			r.Post("/{id}/decline", h.DeclineRequest)
			r.Post("/{id}/bids", h.SubmitBid)
		})
		r.Route("/v1/bids/{id}", func(r chi.Router) {
			r.Post("/withdraw", h.WithdrawBid)
			r.Post("/reject", h.RejectBid)
			r.Post("/hold", h.PlaceHold)
			r.Post("/accept", h.AcceptHeld)
			r.Post("/confirm", h.ConfirmAccepted)
			r.Post("/revert", h.RevertToHeld)
			r.Post("/decline", h.DeclineHeld)
		})
		r.Post("/v1/holds/{id}/release", h.Release)
		r.Post("/v1/holds/{id}/expire", h.Expire)
		r.Post("/v1/admin/holds/clear", h.ClearAll)
	})

	return r
}
