// Package api exposes the HTTP trigger for recurring runs.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"example.com/recurring/internal/engine"
	"example.com/recurring/internal/logger"
)

// ProcessPath is the trigger route.
const ProcessPath = "/v1/recurring/process"

// DefaultRunTimeout bounds a triggered run once the caller has gone away.
const DefaultRunTimeout = 5 * time.Minute

// Runner executes one recurring run.
type Runner interface {
	Run(ctx context.Context, today time.Time) (engine.Summary, error)
}

// Handler serves the trigger endpoint.
type Handler struct {
	runner     Runner
	now        func() time.Time
	runTimeout time.Duration
	logger     zerolog.Logger
}

// NewHandler builds a Handler using the wall clock for "today".
func NewHandler(runner Runner, logger zerolog.Logger) *Handler {
	return &Handler{runner: runner, now: time.Now, runTimeout: DefaultRunTimeout, logger: logger}
}

// Process runs the orchestrator for today and writes the summary. The run outlives a
// disconnected caller, bounded by runTimeout.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), h.logger)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.runTimeout)
	defer cancel()

	summary, err := h.runner.Run(ctx, h.now())
	if err != nil {
		log.Error().Err(err).Msg("recurring run failed")
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeText(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message))
}
