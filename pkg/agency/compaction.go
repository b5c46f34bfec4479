package agency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
)

const (
	// DefaultCompactionThreshold is the fraction of the max context window at which
	// the conversation should be compacted. 0.6 means compact when usage reaches 60%.
	DefaultCompactionThreshold = 0.6

	// minCompactionEntries is the shortest conversation worth compacting.
	minCompactionEntries = 10
)

// maybeCompact compacts the conversation when it has grown past the threshold
// of the given agent's context window. Failures are logged, never returned:
// the submission has already completed.
func (a *Agency) maybeCompact(ctx context.Context, agentName string) {
	agent, _ := a.def.Agent(agentName)
	if err := a.checkAndCompact(ctx, a.modelFor(agent)); err != nil {
		slog.Warn("Compaction failed", "session", a.sessionID, "error", err)
	}
}

func (a *Agency) checkAndCompact(ctx context.Context, modelName string) error {
	entries, err := a.memory.GetEntries(ctx, a.sessionID, 0)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if len(entries) < minCompactionEntries {
		return nil
	}

	// Estimate token usage (rough heuristic: ~4 chars per token).
	totalChars := 0
	for _, e := range entries {
		totalChars += len(e.Content)
	}
	estimatedTokens := totalChars / 4

	maxTokens := a.contextWindow(ctx, modelName)
	if maxTokens == 0 {
		// Can't determine context window, skip compaction.
		return nil
	}
	if float64(estimatedTokens) < float64(maxTokens)*a.opts.CompactionThreshold {
		return nil
	}

	slog.Info("Conversation compaction triggered",
		"session", a.sessionID,
		"estimatedTokens", estimatedTokens,
		"maxTokens", maxTokens,
		"threshold", a.opts.CompactionThreshold,
	)
	return a.compact(ctx, modelName, entries)
}

// contextWindow returns the max tokens of the named model, or zero when the
// provider does not report it. The model list is fetched once per Agency.
func (a *Agency) contextWindow(ctx context.Context, modelName string) int {
	a.windowOnce.Do(func() {
		a.windows = map[string]int{}
		models, err := a.provider.List(ctx)
		if err != nil {
			slog.Warn("Listing models for compaction check", "error", err)
			return
		}
		for _, m := range models {
			a.windows[m.ID] = m.MaxTokens
		}
	})
	return a.windows[modelName]
}

// compactionSplit finds a safe compaction point: around half of the entries,
// but never between a tool call and its result.
func compactionSplit(entries []domain.StreamEntry) int {
	i := len(entries) / 2
	for i > 0 {
		e := entries[i]
		if e.ContentType == domain.ContentTypeToolCall || e.Role == domain.RoleTool {
			i--
			continue
		}
		break
	}
	return i
}

// compact asks the model to summarize the older half of the conversation,
// appends the summary and then re-appends the newer half after it. Older
// entries stay in the store but leave the view.
func (a *Agency) compact(ctx context.Context, modelName string, entries []domain.StreamEntry) error {
	split := compactionSplit(entries)
	if split <= 1 {
		return nil
	}

	var prompt strings.Builder
	prompt.WriteString("You are summarizing a research conversation for context compaction. " +
		"Create a dense, comprehensive summary of the following conversation that preserves:\n" +
		"- The user's research questions and their answers to clarifying questions\n" +
		"- Key findings and the sources (URLs) that support them\n" +
		"- Any instructions or preferences the user expressed\n\n" +
		"Be thorough but concise. This summary will replace the original messages.\n\n" +
		"CONVERSATION TO SUMMARIZE:\n")
	for _, e := range entries[:split] {
		fmt.Fprintf(&prompt, "[%s] %s\n", e.Role, e.Content)
	}

	stream, err := a.provider.Stream(ctx, &model.Request{
		Model:        modelName,
		Instructions: "You are a conversation summarizer.",
		Messages: []model.Message{{
			Role:    domain.RoleUser,
			Content: []model.Content{{Type: domain.ContentTypeText, Text: prompt.String()}},
		}},
	})
	if err != nil {
		return fmt.Errorf("calling model for compaction: %w", err)
	}
	defer stream.Close()

	msg, err := model.Collect(stream)
	if err != nil {
		return fmt.Errorf("getting compaction summary: %w", err)
	}

	summary := ""
	for _, c := range msg.Content {
		if c.Type == domain.ContentTypeText {
			summary = c.Text
			break
		}
	}
	if summary == "" {
		return fmt.Errorf("model returned empty compaction summary")
	}
	if err := a.memory.Compact(ctx, a.sessionID, summary); err != nil {
		return fmt.Errorf("appending compaction summary: %w", err)
	}
	for _, e := range entries[split:] {
		e.ID = uuid.New().String()
		if err := a.memory.Append(ctx, &e); err != nil {
			return fmt.Errorf("carrying entry over compaction: %w", err)
		}
	}
	return nil
}
