package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/cbt-research/internal/identity"
	"github.com/ashureev/cbt-research/internal/store"
)

// ListSessions returns the research dashboard over every stored session.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	view, err := h.dashboard.Load(r.Context())
	if err != nil {
		slog.Error("Failed to load dashboard", "error", err, "user_id", identity.UserIDFromContext(r.Context()))
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		Error(w, status, "failed to load sessions")
		return
	}

	h.metrics.DashboardLoaded(r.Context())
	JSON(w, http.StatusOK, view)
}
