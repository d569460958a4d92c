// Package api provides HTTP handlers for the CBT research service.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/cbt-research/internal/config"
	"github.com/ashureev/cbt-research/internal/dashboard"
	"github.com/ashureev/cbt-research/internal/events"
	"github.com/ashureev/cbt-research/internal/flow"
	"github.com/ashureev/cbt-research/internal/identity"
	"github.com/ashureev/cbt-research/internal/store"
	"github.com/ashureev/cbt-research/internal/telemetry"
)

// Options holds the dependencies of Handler.
type Options struct {
	Repo      store.Repository
	Flows     *flow.Registry
	Tokens    *identity.Provider
	Dashboard *dashboard.Service
	Bus       events.Bus
	Metrics   *telemetry.Metrics
	Study     config.Study
}

// Handler serves the participant and research endpoints.
type Handler struct {
	repo      store.Repository
	flows     *flow.Registry
	tokens    *identity.Provider
	dashboard *dashboard.Service
	bus       events.Bus
	metrics   *telemetry.Metrics
	study     config.Study
	now       func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(opts Options) *Handler {
	h := &Handler{
		repo:      opts.Repo,
		flows:     opts.Flows,
		tokens:    opts.Tokens,
		dashboard: opts.Dashboard,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		study:     opts.Study,
		now:       time.Now,
	}
	if h.flows == nil {
		h.flows = flow.NewRegistry()
	}
	if h.dashboard == nil {
		h.dashboard = dashboard.NewService(opts.Repo, time.UTC)
	}
	if h.metrics == nil {
		h.metrics = telemetry.Noop()
	}
	return h
}

// RegisterRoutes registers the API routes. limit wraps the handshake and
// submit endpoints; nil disables rate limiting.
func (h *Handler) RegisterRoutes(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/study", h.GetStudy)
		r.With(limit).Post("/auth/anonymous", h.SignInAnonymously)

		r.Group(func(r chi.Router) {
			r.Use(h.tokens.RequireToken)

			r.Get("/session", h.GetSession)
			r.Post("/session/consent", h.AcceptConsent)
			r.Put("/session/answers", h.UpdateAnswers)
			r.With(limit).Post("/session/submit", h.Submit)
			r.Post("/session/restart", h.Restart)

			r.Get("/research/sessions", h.ListSessions)
		})
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
