// Package clarify turns a clarifier agent's output into a single follow-up
// message carrying the user's answers.
package clarify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nstogner/agency/pkg/stream"
)

// NoPreference is submitted for a question left unanswered.
const NoPreference = "No preference."

// Pair is one question and its answer.
type Pair struct {
	Question string
	Answer   string
}

// AnswerProvider supplies an answer for a clarification question.
type AnswerProvider interface {
	Answer(ctx context.Context, question string) (string, error)
}

// ParseQuestions decodes clarifier text of the form {"questions": [...]}.
// It reports false when the text is not JSON or has no questions field.
func ParseQuestions(text string) ([]string, bool) {
	var payload struct {
		Questions *[]string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &payload); err != nil {
		return nil, false
	}
	if payload.Questions == nil {
		return nil, false
	}
	return *payload.Questions, true
}

// Compose renders answered questions as one message in question order.
// Blank answers become NoPreference.
func Compose(pairs []Pair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		answer := strings.TrimSpace(p.Answer)
		if answer == "" {
			answer = NoPreference
		}
		parts = append(parts, fmt.Sprintf("**%s**\n%s", p.Question, answer))
	}
	return strings.Join(parts, "\n\n")
}

// Resolver asks the clarifier's questions and composes the resubmission.
type Resolver struct {
	answers AnswerProvider
}

// NewResolver creates a Resolver that collects answers from the given provider.
func NewResolver(answers AnswerProvider) *Resolver {
	return &Resolver{answers: answers}
}

// Questions extracts the question set from a stream outcome. Structured
// questions take precedence over clarifier text.
func Questions(out stream.Outcome) ([]string, bool) {
	questions, ok := out.Questions, out.HasQuestions
	if !ok {
		if strings.TrimSpace(out.Clarifier) == "" {
			return nil, false
		}
		questions, ok = ParseQuestions(out.Clarifier)
		if !ok {
			slog.Debug("Clarifier output is not a question set", "chars", len(out.Clarifier))
			return nil, false
		}
	}
	if len(questions) == 0 {
		return nil, false
	}
	return questions, true
}

// Resolve returns the message to resubmit, or ok=false when no
// clarification is needed. Errors come only from the answer provider.
func (r *Resolver) Resolve(ctx context.Context, out stream.Outcome) (string, bool, error) {
	questions, ok := Questions(out)
	if !ok {
		return "", false, nil
	}

	pairs := make([]Pair, 0, len(questions))
	for _, q := range questions {
		a, err := r.answers.Answer(ctx, q)
		if err != nil {
			return "", false, fmt.Errorf("answering %q: %w", q, err)
		}
		pairs = append(pairs, Pair{Question: q, Answer: a})
	}
	return Compose(pairs), true, nil
}
