package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/department-scheduling/internal/metrics"
)

type RouterConfig struct {
	Availability   AvailabilityService
	Queues         QueueService
	Health         *HealthHandler
	Metrics        *metrics.Collector
	MetricsHandler http.Handler
	Logger         *zap.Logger
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	h := &handlers{slots: cfg.Availability, queues: cfg.Queues, log: cfg.Logger}

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))

		r.Get("/departments/{kind}/{id}/slots", h.listSlots)

		r.Route("/queues", func(r chi.Router) {
			r.Post("/", h.createQueue)
			r.Get("/{id}", h.getQueue)
			r.Delete("/{id}", h.deleteQueue)
			r.Post("/{id}/appointments", h.addToQueue)
			r.Post("/{id}/reorder", h.reorderQueue)
		})

		r.Post("/appointments/swap", h.swapAppointments)
		r.Delete("/appointments/{id}/queue", h.removeFromQueue)
		r.Delete("/appointments/{id}", h.deleteAppointment)
	})

	return r
}
