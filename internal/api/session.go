package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/cbt-research/internal/config"
	"github.com/ashureev/cbt-research/internal/events"
	"github.com/ashureev/cbt-research/internal/flow"
	"github.com/ashureev/cbt-research/internal/identity"
	"github.com/ashureev/cbt-research/internal/store"
)

const (
	maxBodyBytes = 64 << 10
	writeTimeout = 10 * time.Second
)

type sessionResponse struct {
	flow.Snapshot
	Prompts      config.StudyPrompts `json:"prompts"`
	ReviewLabels config.StudyPrompts `json:"review_labels"`
}

// answersRequest distinguishes an absent engagement (unchanged) from an
// explicit null (cleared).
type answersRequest struct {
	Situation  *string         `json:"situation"`
	Reaction   *string         `json:"reaction"`
	Emotion    *string         `json:"emotion"`
	Reframe    *string         `json:"reframe"`
	Engagement json.RawMessage `json:"engagement"`
}

func (req answersRequest) patch() (flow.AnswerPatch, error) {
	p := flow.AnswerPatch{
		Situation: req.Situation,
		Reaction:  req.Reaction,
		Emotion:   req.Emotion,
		Reframe:   req.Reframe,
	}
	if len(req.Engagement) == 0 {
		return p, nil
	}

	p.EngagementSet = true
	if bytes.Equal(bytes.TrimSpace(req.Engagement), []byte("null")) {
		return p, nil
	}
	var v int
	if err := json.Unmarshal(req.Engagement, &v); err != nil {
		return p, fmt.Errorf("%w: %w", flow.ErrInvalidEngagement, err)
	}
	p.Engagement = &v
	return p, nil
}

func decodePatch(r *http.Request) (flow.AnswerPatch, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return flow.AnswerPatch{}, fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return flow.AnswerPatch{}, nil
	}

	var req answersRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return flow.AnswerPatch{}, fmt.Errorf("decode answers: %w", err)
	}
	return req.patch()
}

func (h *Handler) tabFlow(r *http.Request) (*flow.Flow, string, string) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	return h.flows.Get(userID, sessionID), userID, sessionID
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, status int, f *flow.Flow) {
	JSON(w, status, sessionResponse{
		Snapshot:     f.Snapshot(),
		Prompts:      h.study.Prompts,
		ReviewLabels: h.study.Review,
	})
}

func flowErrorStatus(err error) int {
	switch {
	case errors.Is(err, flow.ErrInvalidEngagement):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrIncomplete):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flow.ErrSubmitInFlight), errors.Is(err, flow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// GetSession returns the tab's flow snapshot.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	f, _, _ := h.tabFlow(r)
	h.writeSnapshot(w, http.StatusOK, f)
}

// AcceptConsent moves the tab from consent to the form.
func (h *Handler) AcceptConsent(w http.ResponseWriter, r *http.Request) {
	f, userID, sessionID := h.tabFlow(r)
	if err := f.Accept(); err != nil {
		slog.Warn("Consent rejected", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, flowErrorStatus(err), err.Error())
		return
	}
	h.writeSnapshot(w, http.StatusOK, f)
}

// UpdateAnswers applies a partial edit to the open form.
func (h *Handler) UpdateAnswers(w http.ResponseWriter, r *http.Request) {
	f, userID, sessionID := h.tabFlow(r)

	patch, err := decodePatch(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := f.Update(patch); err != nil {
		slog.Debug("Answer update rejected", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, flowErrorStatus(err), err.Error())
		return
	}
	h.writeSnapshot(w, http.StatusOK, f)
}

// Submit stores the completed answers as one session record.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	f, userID, sessionID := h.tabFlow(r)

	patch, err := decodePatch(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !patch.Empty() {
		if err := f.Update(patch); err != nil {
			Error(w, flowErrorStatus(err), err.Error())
			return
		}
	}

	// A write that has started finishes even if the client goes away.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), writeTimeout)
	defer cancel()

	now := h.now()
	id, err := f.Submit(ctx, h.repo, now)
	if err != nil {
		status := flowErrorStatus(err)
		switch status {
		case http.StatusBadGateway, http.StatusServiceUnavailable:
			reason := "write"
			if status == http.StatusServiceUnavailable {
				reason = "unavailable"
			}
			h.metrics.SubmitFailed(ctx, reason)
			slog.Error("Failed to store session", "error", err, "user_id", userID, "session_id", sessionID)
			h.writeSnapshot(w, status, f)
		default:
			Error(w, status, err.Error())
		}
		return
	}

	snap := f.Snapshot()
	engagement := 0
	if snap.Answers.Engagement != nil {
		engagement = *snap.Answers.Engagement
	}
	h.metrics.SessionSubmitted(ctx, engagement)
	slog.Info("Session stored", "record_id", id, "user_id", userID, "session_id", sessionID, "engagement", engagement)

	if h.bus != nil {
		if err := h.bus.Publish(ctx, events.NewSessionCreated(id, engagement, now)); err != nil {
			slog.Warn("Failed to publish session event", "error", err, "record_id", id)
		}
	}

	h.writeSnapshot(w, http.StatusCreated, f)
}

// Restart clears the answers and reopens the form after review.
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	f, userID, sessionID := h.tabFlow(r)
	if err := f.Restart(); err != nil {
		slog.Warn("Restart rejected", "error", err, "user_id", userID, "session_id", sessionID)
		Error(w, flowErrorStatus(err), err.Error())
		return
	}
	h.writeSnapshot(w, http.StatusOK, f)
}
