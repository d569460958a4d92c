package domain

import (
	"strings"
	"time"
)

// Engagement bounds for the self-reported rating.
const (
	MinEngagement = 1
	MaxEngagement = 5
)

// SessionAnswers holds one participant's in-progress answers.
// Engagement is nil until the participant explicitly sets it.
type SessionAnswers struct {
	Situation  string `json:"situation"`
	Reaction   string `json:"reaction"`
	Emotion    string `json:"emotion"`
	Reframe    string `json:"reframe"`
	Engagement *int   `json:"engagement"`
}

// Complete reports whether every text answer is non-blank and engagement is set.
func (a SessionAnswers) Complete() bool {
	return strings.TrimSpace(a.Situation) != "" &&
		strings.TrimSpace(a.Reaction) != "" &&
		strings.TrimSpace(a.Emotion) != "" &&
		strings.TrimSpace(a.Reframe) != "" &&
		a.Engagement != nil
}

// ValidEngagement reports whether v is an accepted rating.
func ValidEngagement(v int) bool {
	return v >= MinEngagement && v <= MaxEngagement
}

// SessionDocument is the persisted shape of a submitted session.
type SessionDocument struct {
	Thought    string    `json:"thought"`
	Engagement int       `json:"engagement"`
	Timestamp  time.Time `json:"timestamp"`
}

// SessionRecord is a stored session as read back from the store.
// Thought and Timestamp are nil when the document lacks them.
type SessionRecord struct {
	ID         string     `json:"id"`
	Thought    *string    `json:"thought,omitempty"`
	Engagement int        `json:"engagement"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// ParsedThought is the decoded form of an encoded thought block.
type ParsedThought struct {
	Situation string `json:"situation"`
	Reaction  string `json:"reaction"`
	Emotion   string `json:"emotion"`
	Reframe   string `json:"reframe"`
}
