package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModeParams bundles the system prompt and sampling bounds for one request
// shape.
type ModeParams struct {
	System      string  `yaml:"system"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// PromptSet holds the parameters for every relay mode. The follow-up system
// prompt is a template that receives the original question and answer.
type PromptSet struct {
	Concise  ModeParams `yaml:"concise"`
	FollowUp ModeParams `yaml:"follow_up"`
	Detailed ModeParams `yaml:"detailed"`
	Summary  ModeParams `yaml:"summary"`
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() PromptSet {
	return PromptSet{
		Concise: ModeParams{
			System: "You are a helpful assistant. Answer the question clearly and concisely. " +
				"Prefer short paragraphs and avoid filler.",
			MaxTokens:   400,
			Temperature: 0.3,
		},
		FollowUp: ModeParams{
			System: "You are a helpful assistant continuing a conversation about a question and its answer.\n\n" +
				"Original question: %s\n\nOriginal answer: %s\n\n" +
				"Answer follow-up questions using this context.",
			MaxTokens:   800,
			Temperature: 0.7,
		},
		Detailed: ModeParams{
			System: "You are a helpful assistant. Provide a comprehensive, detailed answer " +
				"with examples where they help understanding.",
			MaxTokens:   1000,
			Temperature: 0.7,
		},
		Summary: ModeParams{
			System: "You are a helpful assistant. Summarize the given question and answer " +
				"in one or two sentences.",
			MaxTokens:   150,
			Temperature: 0.3,
		},
	}
}

// promptOverrides mirrors PromptSet with optional fields so a partial YAML
// file only replaces what it names.
type promptOverrides struct {
	Concise  *modeOverrides `yaml:"concise"`
	FollowUp *modeOverrides `yaml:"follow_up"`
	Detailed *modeOverrides `yaml:"detailed"`
	Summary  *modeOverrides `yaml:"summary"`
}

type modeOverrides struct {
	System      *string  `yaml:"system"`
	MaxTokens   *int     `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
}

// LoadPrompts reads a YAML prompt file and applies it on top of the
// defaults. An empty path returns the defaults unchanged.
func LoadPrompts(path string) (PromptSet, error) {
	set := DefaultPrompts()
	if path == "" {
		return set, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return PromptSet{}, fmt.Errorf("read prompts file: %w", err)
	}
	var overrides promptOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return PromptSet{}, fmt.Errorf("parse prompts file: %w", err)
	}
	applyMode(&set.Concise, overrides.Concise)
	applyMode(&set.FollowUp, overrides.FollowUp)
	applyMode(&set.Detailed, overrides.Detailed)
	applyMode(&set.Summary, overrides.Summary)
	return set, nil
}

func applyMode(dst *ModeParams, src *modeOverrides) {
	if src == nil {
		return
	}
	if src.System != nil {
		dst.System = *src.System
	}
	if src.MaxTokens != nil {
		dst.MaxTokens = *src.MaxTokens
	}
	if src.Temperature != nil {
		dst.Temperature = *src.Temperature
	}
}
