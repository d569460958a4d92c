package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/cbt-research/internal/flow"
	"github.com/ashureev/cbt-research/internal/middleware"
	"github.com/ashureev/cbt-research/internal/store"
)

type snapshotBody struct {
	State   flow.State `json:"state"`
	Answers struct {
		Situation  string `json:"situation"`
		Reaction   string `json:"reaction"`
		Emotion    string `json:"emotion"`
		Reframe    string `json:"reframe"`
		Engagement *int   `json:"engagement"`
	} `json:"answers"`
	CanSubmit bool              `json:"can_submit"`
	Error     string            `json:"error"`
	RecordID  string            `json:"record_id"`
	Prompts   map[string]string `json:"prompts"`
}

var fullAnswers = map[string]interface{}{
	"situation":  "Exam stress",
	"reaction":   "Panicked",
	"emotion":    "Fear",
	"reframe":    "Plan study time",
	"engagement": 4,
}

func openForm(t *testing.T, s *testServer) string {
	t.Helper()
	token := s.signIn(t)
	rec := s.do(t, http.MethodPost, "/api/session/consent", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return token
}

func TestSessionRequiresHandshake(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"identity handshake required"}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/research/sessions", "bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandshakeMovesToConsent(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signIn(t)

	rec := s.do(t, http.MethodGet, "/api/session", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap snapshotBody
	decode(t, rec, &snap)
	assert.Equal(t, flow.StateConsent, snap.State)
	assert.False(t, snap.CanSubmit)
	assert.Equal(t, "1. What is the situation you are here to talk about?", snap.Prompts["situation"])
}

func TestEditBeforeConsentIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	token := s.signIn(t)

	rec := s.do(t, http.MethodPut, "/api/session/answers", token, map[string]string{"situation": "x"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitStoresEncodedSession(t *testing.T) {
	s := newTestServer(t, nil)
	token := openForm(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := s.bus.Subscribe(ctx)
	require.NoError(t, err)

	rec := s.do(t, http.MethodPut, "/api/session/answers", token, fullAnswers)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap snapshotBody
	decode(t, rec, &snap)
	assert.True(t, snap.CanSubmit)

	rec = s.do(t, http.MethodPost, "/api/session/submit", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, rec, &snap)
	assert.Equal(t, flow.StateReview, snap.State)
	assert.Equal(t, "rec-a", snap.RecordID)
	assert.Equal(t, "Exam stress", snap.Answers.Situation)

	docs := s.repo.stored()
	require.Len(t, docs, 1)
	assert.Equal(t, "Situation: Exam stress\nReaction: Panicked\nEmotions: Fear\nReframe: Plan study time", docs[0].doc.Thought)
	assert.Equal(t, 4, docs[0].doc.Engagement)
	assert.True(t, s.now.Equal(docs[0].doc.Timestamp))

	select {
	case ev := <-sub:
		assert.Equal(t, "rec-a", ev.ID)
		assert.Equal(t, 4, ev.Engagement)
	case <-time.After(time.Second):
		t.Fatal("session event not published")
	}
}

func TestSubmitWithFinalPatch(t *testing.T) {
	s := newTestServer(t, nil)
	token := openForm(t, s)

	rec := s.do(t, http.MethodPost, "/api/session/submit", token, fullAnswers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, s.repo.stored(), 1)
}

func TestSubmitIncompleteIsRejected(t *testing.T) {
	s := newTestServer(t, nil)
	token := openForm(t, s)

	partial := map[string]interface{}{
		"situation": "Exam stress",
		"reaction":  "Panicked",
		"emotion":   "Fear",
		"reframe":   "Plan study time",
	}
	rec := s.do(t, http.MethodPost, "/api/session/submit", token, partial)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, s.repo.stored())

	rec = s.do(t, http.MethodPut, "/api/session/answers", token, map[string]interface{}{"engagement": 3, "reaction": "   "})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/session/submit", token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "whitespace-only answers do not count")
}

func TestEngagementValidation(t *testing.T) {
	s := newTestServer(t, nil)
	token := openForm(t, s)

	for _, body := range []string{`{"engagement":0}`, `{"engagement":6}`, `{"engagement":"high"}`, `{not json`} {
		rec := s.do(t, http.MethodPut, "/api/session/answers", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := s.do(t, http.MethodPut, "/api/session/answers", token, `{"engagement":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap snapshotBody
	decode(t, rec, &snap)
	require.NotNil(t, snap.Answers.Engagement)
	assert.Equal(t, 5, *snap.Answers.Engagement)

	rec = s.do(t, http.MethodPut, "/api/session/answers", token, `{"situation":"x"}`)
	decode(t, rec, &snap)
	require.NotNil(t, snap.Answers.Engagement, "absent engagement leaves it unchanged")

	rec = s.do(t, http.MethodPut, "/api/session/answers", token, `{"engagement":null}`)
	snap = snapshotBody{}
	decode(t, rec, &snap)
	assert.Nil(t, snap.Answers.Engagement, "null engagement clears it")
}

func TestSubmitFailureKeepsAnswers(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"write failure", errors.New("permission denied"), http.StatusBadGateway},
		{"store busy", fmt.Errorf("%w: database is locked", store.ErrUnavailable), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, nil)
			token := openForm(t, s)
			s.repo.addErr = tc.err

			rec := s.do(t, http.MethodPost, "/api/session/submit", token, fullAnswers)
			require.Equal(t, tc.status, rec.Code)

			var snap snapshotBody
			decode(t, rec, &snap)
			assert.Equal(t, flow.StateForm, snap.State)
			assert.Equal(t, "Failed to save session data.", snap.Error)
			assert.Equal(t, "Plan study time", snap.Answers.Reframe)
			assert.True(t, snap.CanSubmit)

			s.repo.addErr = nil
			rec = s.do(t, http.MethodPost, "/api/session/submit", token, nil)
			assert.Equal(t, http.StatusCreated, rec.Code, "participant may resubmit manually")
		})
	}
}

func TestRestartClearsForm(t *testing.T) {
	s := newTestServer(t, nil)
	token := openForm(t, s)

	rec := s.do(t, http.MethodPost, "/api/session/restart", token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "restart only from review")

	rec = s.do(t, http.MethodPost, "/api/session/submit", token, fullAnswers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/session/restart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap snapshotBody
	decode(t, rec, &snap)
	assert.Equal(t, flow.StateForm, snap.State)
	assert.Empty(t, snap.Answers.Situation)
	assert.Nil(t, snap.Answers.Engagement)
	assert.False(t, snap.CanSubmit)
}

func TestSubmitRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(2)
	s := newTestServer(t, limiter.Middleware)

	token := s.signIn(t)
	rec := s.do(t, http.MethodPost, "/api/session/consent", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/session/submit", token, fullAnswers)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/session/submit", token, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestFlowErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, flowErrorStatus(flow.ErrInvalidEngagement))
	assert.Equal(t, http.StatusUnprocessableEntity, flowErrorStatus(flow.ErrIncomplete))
	assert.Equal(t, http.StatusConflict, flowErrorStatus(flow.ErrSubmitInFlight))
	assert.Equal(t, http.StatusConflict, flowErrorStatus(fmt.Errorf("%w: x", flow.ErrInvalidTransition)))
	assert.Equal(t, http.StatusServiceUnavailable, flowErrorStatus(fmt.Errorf("save session: %w", store.ErrUnavailable)))
	assert.Equal(t, http.StatusBadGateway, flowErrorStatus(errors.New("boom")))
}
