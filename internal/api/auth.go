package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/cbt-research/internal/identity"
)

// SignInAnonymously completes the identity handshake for the calling device
// and moves the tab's flow on to consent.
func (h *Handler) SignInAnonymously(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "anonymous identity missing")
		return
	}

	tok, err := h.tokens.SignInAnonymously(userID)
	if err != nil {
		slog.Error("Anonymous sign-in failed", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to issue identity token")
		return
	}

	h.flows.Get(userID, sessionID).HandshakeComplete()
	slog.Info("Anonymous sign-in", "user_id", userID, "session_id", sessionID)
	JSON(w, http.StatusOK, tok)
}

// GetStudy returns the participant-facing wording.
func (h *Handler) GetStudy(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.study)
}
