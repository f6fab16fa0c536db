package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers all relay routes on the given chi router.
// ingestLimit wraps the two ingestion routes (typically the rate limiter).
// Streaming routes are exempt from the request timeout.
func MountRoutes(r chi.Router, h *Handlers, requestTimeout time.Duration, ingestLimit func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(chimw.Timeout(requestTimeout))
		}
		if ingestLimit != nil {
			r.With(ingestLimit).Post("/webhook", h.IngestAlarm)
			r.With(ingestLimit).Post("/api/v1/alarms", h.IngestAlarm)
		} else {
			r.Post("/webhook", h.IngestAlarm)
			r.Post("/api/v1/alarms", h.IngestAlarm)
		}
		r.Get("/api/v1/alarms", h.ListAlarms)
	})

	r.Get("/api/v1/alarms/stream", h.StreamAlarms)
	r.Get("/api/v1/alarms/ws", h.StreamAlarmsWS)
}
