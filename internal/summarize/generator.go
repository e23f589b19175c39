package summarize

import (
	"context"

	"mailbase/internal/models"
)

// Summary is the structured output of one generation run, together with the
// raw exchange so it can be logged verbatim.
type Summary struct {
	Short        string
	Detailed     string
	KeyDecisions []string
	ActionItems  []string

	Model            string
	Prompt           string
	Response         string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces thread summaries. The LLM client implements this;
// tests substitute fakes.
type Generator interface {
	Summarize(ctx context.Context, history []models.Message) (*Summary, error)
}
