// Package flow drives a participant through consent, answer collection,
// submission and review for one browser tab.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/cbt-research/internal/domain"
	"github.com/ashureev/cbt-research/internal/thought"
)

// State is a step of the session flow.
type State string

const (
	StateInitializing State = "initializing"
	StateConsent      State = "consent"
	StateForm         State = "form"
	StateSubmitting   State = "submitting"
	StateReview       State = "review"
)

var (
	ErrInvalidTransition = errors.New("invalid flow transition")
	ErrIncomplete        = errors.New("all five answers are required")
	ErrSubmitInFlight    = errors.New("submission already in progress")
	ErrInvalidEngagement = fmt.Errorf("engagement must be between %d and %d", domain.MinEngagement, domain.MaxEngagement)
)

// SessionWriter persists a completed session and returns the new record id.
type SessionWriter interface {
	AddSession(ctx context.Context, doc domain.SessionDocument) (string, error)
}

// AnswerPatch carries edits to the form. Nil text fields are left alone.
// When EngagementSet is true, Engagement replaces the current rating
// (nil clears it).
type AnswerPatch struct {
	Situation     *string
	Reaction      *string
	Emotion       *string
	Reframe       *string
	Engagement    *int
	EngagementSet bool
}

// Empty reports whether the patch changes nothing.
func (p AnswerPatch) Empty() bool {
	return p.Situation == nil && p.Reaction == nil && p.Emotion == nil && p.Reframe == nil && !p.EngagementSet
}

// Snapshot is a point-in-time copy of a flow.
type Snapshot struct {
	State     State                 `json:"state"`
	Answers   domain.SessionAnswers `json:"answers"`
	CanSubmit bool                  `json:"can_submit"`
	Error     string                `json:"error,omitempty"`
	RecordID  string                `json:"record_id,omitempty"`
}

// Flow is the state of one tab's pass through the reflection.
type Flow struct {
	mu       sync.Mutex
	state    State
	answers  domain.SessionAnswers
	lastErr  error
	recordID string
}

// New returns a flow waiting for the identity handshake.
func New() *Flow {
	return &Flow{state: StateInitializing}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// HandshakeComplete moves an initializing flow to consent. Calling it again
// later is a no-op so a tab can refresh its identity token mid-flow.
func (f *Flow) HandshakeComplete() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateInitializing {
		f.state = StateConsent
	}
}

// Accept records the participant's consent.
func (f *Flow) Accept() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateConsent:
		f.state = StateForm
		return nil
	case StateForm:
		return nil
	default:
		return fmt.Errorf("%w: accept consent from %s", ErrInvalidTransition, f.state)
	}
}

// Update applies edits while the form is open.
func (f *Flow) Update(p AnswerPatch) error {
	if p.EngagementSet && p.Engagement != nil && !domain.ValidEngagement(*p.Engagement) {
		return ErrInvalidEngagement
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case StateForm:
	case StateSubmitting:
		return ErrSubmitInFlight
	default:
		return fmt.Errorf("%w: edit answers in %s", ErrInvalidTransition, f.state)
	}

	if p.Situation != nil {
		f.answers.Situation = *p.Situation
	}
	if p.Reaction != nil {
		f.answers.Reaction = *p.Reaction
	}
	if p.Emotion != nil {
		f.answers.Emotion = *p.Emotion
	}
	if p.Reframe != nil {
		f.answers.Reframe = *p.Reframe
	}
	if p.EngagementSet {
		f.answers.Engagement = copyInt(p.Engagement)
	}
	return nil
}

// CanSubmit reports whether the submit control would be enabled.
func (f *Flow) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == StateForm && f.answers.Complete()
}

// Submit writes the answers as one stored session. On success the flow moves
// to review; on failure it returns to the form with every answer kept and
// the error recorded. Nothing is retried.
func (f *Flow) Submit(ctx context.Context, w SessionWriter, now time.Time) (string, error) {
	f.mu.Lock()
	switch f.state {
	case StateForm:
	case StateSubmitting:
		f.mu.Unlock()
		return "", ErrSubmitInFlight
	default:
		st := f.state
		f.mu.Unlock()
		return "", fmt.Errorf("%w: submit from %s", ErrInvalidTransition, st)
	}
	if !f.answers.Complete() {
		f.mu.Unlock()
		return "", ErrIncomplete
	}
	f.state = StateSubmitting
	f.lastErr = nil
	doc := domain.SessionDocument{
		Thought:    thought.EncodeAnswers(f.answers),
		Engagement: *f.answers.Engagement,
		Timestamp:  now,
	}
	f.mu.Unlock()

	id, err := w.AddSession(ctx, doc)

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.state = StateForm
		f.lastErr = err
		return "", fmt.Errorf("save session: %w", err)
	}
	f.state = StateReview
	f.recordID = id
	return id, nil
}

// Restart clears every answer and reopens the form.
func (f *Flow) Restart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateReview {
		return fmt.Errorf("%w: restart from %s", ErrInvalidTransition, f.state)
	}
	f.state = StateForm
	f.answers = domain.SessionAnswers{}
	f.lastErr = nil
	f.recordID = ""
	return nil
}

// Snapshot returns a copy of the flow safe to hand to callers.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Snapshot{
		State:     f.state,
		Answers:   f.answers,
		CanSubmit: f.state == StateForm && f.answers.Complete(),
		RecordID:  f.recordID,
	}
	s.Answers.Engagement = copyInt(f.answers.Engagement)
	if f.lastErr != nil {
		s.Error = "Failed to save session data."
	}
	return s
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
