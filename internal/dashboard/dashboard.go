// Package dashboard builds the aggregated research view over every stored
// session.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/cbt-research/internal/domain"
	"github.com/ashureev/cbt-research/internal/thought"
)

const (
	// CellWidth is the maximum number of characters shown in a text cell.
	CellWidth = 60
	// Ellipsis marks a truncated cell.
	Ellipsis = "…"

	timestampLayout = "Jan 2, 2006, 3:04:05 PM"
)

// Band classifies an engagement rating for display.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// BandFor returns the display band of an engagement value.
func BandFor(engagement int) Band {
	switch {
	case engagement <= 2:
		return BandLow
	case engagement <= 4:
		return BandMedium
	default:
		return BandHigh
	}
}

// Reader lists every stored session, most recent first.
type Reader interface {
	ListSessions(ctx context.Context) ([]domain.SessionRecord, error)
}

// Row is one table line of the dashboard.
type Row struct {
	ID               string `json:"id"`
	Timestamp        string `json:"timestamp"`
	TimestampDisplay string `json:"timestamp_display"`
	Engagement       int    `json:"engagement"`
	Band             Band   `json:"band"`
	Situation        string `json:"situation"`
	Reaction         string `json:"reaction"`
	Emotion          string `json:"emotion"`
	Reframe          string `json:"reframe"`
}

// View is the rendered dashboard.
type View struct {
	TotalSessions          int     `json:"total_sessions"`
	AverageEngagement      string  `json:"average_engagement"`
	AverageEngagementValue float64 `json:"average_engagement_value"`
	Rows                   []Row   `json:"rows"`
}

// Service loads and renders the dashboard.
type Service struct {
	reader Reader
	loc    *time.Location
}

// NewService creates a dashboard service. Timestamps are displayed in loc,
// or UTC when loc is nil.
func NewService(reader Reader, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{reader: reader, loc: loc}
}

// Load re-reads the whole sessions collection and renders it.
func (s *Service) Load(ctx context.Context) (*View, error) {
	records, err := s.reader.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	v := Build(records, s.loc)
	return &v, nil
}

// Build renders records in the order given.
func Build(records []domain.SessionRecord, loc *time.Location) View {
	if loc == nil {
		loc = time.UTC
	}
	avg := AverageEngagement(records)
	v := View{
		TotalSessions:          len(records),
		AverageEngagement:      fmt.Sprintf("%.2f", avg),
		AverageEngagementValue: avg,
		Rows:                   make([]Row, 0, len(records)),
	}
	for _, rec := range records {
		v.Rows = append(v.Rows, buildRow(rec, loc))
	}
	return v
}

func buildRow(rec domain.SessionRecord, loc *time.Location) Row {
	parsed := thought.Decode(rec.Thought)
	row := Row{
		ID:               rec.ID,
		Timestamp:        "",
		TimestampDisplay: thought.Placeholder,
		Engagement:       rec.Engagement,
		Band:             BandFor(rec.Engagement),
		Situation:        Truncate(parsed.Situation, CellWidth),
		Reaction:         Truncate(parsed.Reaction, CellWidth),
		Emotion:          Truncate(parsed.Emotion, CellWidth),
		Reframe:          Truncate(parsed.Reframe, CellWidth),
	}
	if rec.Timestamp != nil {
		row.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
		row.TimestampDisplay = rec.Timestamp.In(loc).Format(timestampLayout)
	}
	return row
}

// AverageEngagement is the mean rating, 0 for no records.
func AverageEngagement(records []domain.SessionRecord) float64 {
	sum := 0
	for _, r := range records {
		sum += r.Engagement
	}
	return float64(sum) / float64(max(len(records), 1))
}

// Truncate shortens s to n characters plus an ellipsis when it is longer.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + Ellipsis
}
