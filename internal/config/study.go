package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Study holds the participant-facing wording. It never affects the labels
// written into stored records.
type Study struct {
	Title   string       `yaml:"title" json:"title"`
	Consent []string     `yaml:"consent" json:"consent"`
	Prompts StudyPrompts `yaml:"prompts" json:"prompts"`
	Review  StudyPrompts `yaml:"review" json:"review"`
}

// StudyPrompts names the five questions in order.
type StudyPrompts struct {
	Situation  string `yaml:"situation" json:"situation"`
	Reaction   string `yaml:"reaction" json:"reaction"`
	Emotion    string `yaml:"emotion" json:"emotion"`
	Reframe    string `yaml:"reframe" json:"reframe"`
	Engagement string `yaml:"engagement" json:"engagement"`
}

// DefaultStudy returns the wording used when no study file is configured.
func DefaultStudy() Study {
	return Study{
		Title: "CBT Reflection Study",
		Consent: []string{
			"This session is part of a university research study exploring how students engage with cognitive behavioral therapy exercises.",
			"Your responses are anonymous and will be used only for research purposes.",
		},
		Prompts: StudyPrompts{
			Situation:  "1. What is the situation you are here to talk about?",
			Reaction:   "2. How did you react in this situation?",
			Emotion:    "3. What are the emotions that you felt?",
			Reframe:    "4. How would you react now after the situation is over?",
			Engagement: "5. Engagement level",
		},
		Review: StudyPrompts{
			Situation:  "Situation you described",
			Reaction:   "Your initial reaction",
			Emotion:    "Emotions you experienced",
			Reframe:    "How you would respond now",
			Engagement: "Engagement level",
		},
	}
}

// LoadStudy reads wording overrides from a YAML file. Fields left empty in
// the file keep their defaults. An empty path returns the defaults.
func LoadStudy(path string) (Study, error) {
	study := DefaultStudy()
	if path == "" {
		return study, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return study, fmt.Errorf("read study file: %w", err)
	}

	var override Study
	if err := yaml.Unmarshal(data, &override); err != nil {
		return study, fmt.Errorf("parse study file %s: %w", path, err)
	}

	if override.Title != "" {
		study.Title = override.Title
	}
	if len(override.Consent) > 0 {
		study.Consent = override.Consent
	}
	mergePrompts(&study.Prompts, override.Prompts)
	mergePrompts(&study.Review, override.Review)
	return study, nil
}

func mergePrompts(dst *StudyPrompts, src StudyPrompts) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Situation, src.Situation)
	set(&dst.Reaction, src.Reaction)
	set(&dst.Emotion, src.Emotion)
	set(&dst.Reframe, src.Reframe)
	set(&dst.Engagement, src.Engagement)
}
