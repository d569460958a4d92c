// Package thought packs the four free-text answers of a session into the
// single labeled text block that is persisted, and unpacks it for display.
//
// The label strings are a storage contract: records already written with
// them must keep decoding, so they never change without a migration.
package thought

import (
	"strings"

	"github.com/ashureev/cbt-research/internal/domain"
)

// Placeholder is returned for any field that cannot be recovered.
const Placeholder = "—"

// Persisted labels, in encoding order.
const (
	LabelSituation = "Situation"
	LabelReaction  = "Reaction"
	LabelEmotion   = "Emotions"
	LabelReframe   = "Reframe"
)

var (
	situationLabels = []string{"Situation"}
	reactionLabels  = []string{"Reaction"}
	emotionLabels   = []string{"Emotion", "Emotions"}
	reframeLabels   = []string{"Reframe"}
)

// Encode joins the answers into "Label: value" lines.
func Encode(situation, reaction, emotion, reframe string) string {
	lines := []string{
		LabelSituation + ": " + situation,
		LabelReaction + ": " + reaction,
		LabelEmotion + ": " + emotion,
		LabelReframe + ": " + reframe,
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// EncodeAnswers encodes the text fields of a.
func EncodeAnswers(a domain.SessionAnswers) string {
	return Encode(a.Situation, a.Reaction, a.Emotion, a.Reframe)
}

// Decode recovers the four answers from an encoded block. It never fails:
// a nil block yields placeholders everywhere and each field degrades
// independently when its line is missing.
func Decode(text *string) domain.ParsedThought {
	if text == nil {
		return domain.ParsedThought{
			Situation: Placeholder,
			Reaction:  Placeholder,
			Emotion:   Placeholder,
			Reframe:   Placeholder,
		}
	}
	return DecodeString(*text)
}

// DecodeValue decodes an untyped value; anything other than a string (or
// *string) is treated as absent.
func DecodeValue(v any) domain.ParsedThought {
	switch t := v.(type) {
	case string:
		return DecodeString(t)
	case *string:
		return Decode(t)
	default:
		return Decode(nil)
	}
}

// DecodeString decodes a present block.
func DecodeString(text string) domain.ParsedThought {
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(l)
	}

	return domain.ParsedThought{
		Situation: valueFor(lines, situationLabels),
		Reaction:  valueFor(lines, reactionLabels),
		Emotion:   valueFor(lines, emotionLabels),
		Reframe:   valueFor(lines, reframeLabels),
	}
}

// valueFor returns the text after the first colon of the first line whose
// label matches one of labels, ignoring case.
func valueFor(lines []string, labels []string) string {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, label := range labels {
			if strings.HasPrefix(lower, strings.ToLower(label)+":") {
				_, after, _ := strings.Cut(line, ":")
				return strings.TrimSpace(after)
			}
		}
	}
	return Placeholder
}
