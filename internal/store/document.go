package store

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/ashureev/cbt-research/internal/domain"
)

// encodeSessionDocument renders the persisted JSON shape of a session.
func encodeSessionDocument(doc domain.SessionDocument) ([]byte, error) {
	data, err := json.Marshal(map[string]any{
		"thought":    doc.Thought,
		"engagement": doc.Engagement,
		"timestamp":  doc.Timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal session document: %w", err)
	}
	return data, nil
}

// decodeSessionJSON decodes stored JSON into a record. Unparseable data
// yields a record with every field defaulted.
func decodeSessionJSON(id string, data []byte) domain.SessionRecord {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.SessionRecord{ID: id}
	}
	return DecodeSessionDocument(id, raw)
}

// DecodeSessionDocument maps an untyped document into a SessionRecord.
// Absent or wrongly typed fields are defaulted: no thought, engagement 0,
// no timestamp.
func DecodeSessionDocument(id string, raw map[string]any) domain.SessionRecord {
	rec := domain.SessionRecord{ID: id}
	if raw == nil {
		return rec
	}

	if s, ok := raw["thought"].(string); ok {
		rec.Thought = &s
	}
	rec.Engagement = engagementValue(raw["engagement"])
	rec.Timestamp = timestampValue(raw["timestamp"])
	return rec
}

func engagementValue(v any) int {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0
		}
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return int(i)
	default:
		return 0
	}
}

func timestampValue(v any) *time.Time {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return &parsed
	case time.Time:
		return &t
	case float64:
		ts := time.UnixMilli(int64(t)).UTC()
		return &ts
	default:
		return nil
	}
}
