package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/recurring/internal/auth"
)

// NewRouter wires the trigger behind guard. Health and metrics stay unauthenticated.
func NewRouter(h *Handler, guard auth.Guard, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Recovery(log))
	r.Use(RequestLogger(log))

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(guard.Wrap)
		r.Get(ProcessPath, h.Process)
		r.Post(ProcessPath, h.Process)
	})
	return r
}
