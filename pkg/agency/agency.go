// Package agency runs a declarative graph of agents against a model
// provider and exposes each submission as a stream of events.
package agency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/clarify"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
	"github.com/nstogner/agency/pkg/store"
)

// DefaultMaxTurns bounds the model calls made for one submission.
const DefaultMaxTurns = 25

// handoffPrefix starts the name of every handoff tool.
const handoffPrefix = "transfer_to_"

// Options tunes an Agency.
type Options struct {
	// SessionID keys the conversation memory. Empty generates a new one.
	SessionID string
	// MaxTurns bounds model calls per submission. Zero uses DefaultMaxTurns.
	MaxTurns int
	// CompactionThreshold is the fraction of the model's context window at
	// which memory is compacted. Zero uses DefaultCompactionThreshold.
	CompactionThreshold float64
}

// Agency is a built agent graph bound to one conversation. Stream may be
// called repeatedly; memory carries over between calls. An Agency serves one
// submission at a time.
type Agency struct {
	def       domain.AgencyDef
	provider  model.Provider
	memory    store.ConversationStore
	tools     *Toolbox
	sessionID string
	opts      Options

	// handoffs maps handoff tool names to target agents, per source agent.
	handoffs map[string]map[string]string

	windowOnce sync.Once
	windows    map[string]int
}

// New builds an Agency from a definition.
func New(def domain.AgencyDef, provider model.Provider, memory store.ConversationStore, tools *Toolbox, opts Options) (*Agency, error) {
	if tools == nil {
		tools = NewToolbox(nil, nil, nil)
	}
	if err := Validate(def, tools); err != nil {
		return nil, err
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.New().String()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.CompactionThreshold <= 0 {
		opts.CompactionThreshold = DefaultCompactionThreshold
	}

	a := &Agency{
		def:       def,
		provider:  provider,
		memory:    memory,
		tools:     tools,
		sessionID: opts.SessionID,
		opts:      opts,
		handoffs:  map[string]map[string]string{},
	}
	for _, ag := range def.Agents {
		m := map[string]string{}
		for _, target := range ag.Handoffs {
			m[HandoffToolName(target)] = target
		}
		a.handoffs[ag.Name] = m
	}
	return a, nil
}

// Validate checks that a definition is internally consistent and that every
// tool it names is available.
func Validate(def domain.AgencyDef, tools *Toolbox) error {
	if err := def.Roles.Validate(); err != nil {
		return err
	}
	if len(def.Agents) == 0 {
		return errors.New("agency has no agents")
	}
	seen := map[string]bool{}
	for _, ag := range def.Agents {
		if ag.Name == "" {
			return errors.New("agent name is required")
		}
		if seen[ag.Name] {
			return fmt.Errorf("duplicate agent %q", ag.Name)
		}
		seen[ag.Name] = true
		if ag.Model == "" && def.Model == "" {
			return fmt.Errorf("agent %q has no model", ag.Name)
		}
		if ag.Output != "" && ag.Output != domain.OutputClarifications {
			return fmt.Errorf("agent %q: unknown output %q", ag.Name, ag.Output)
		}
	}
	for _, ag := range def.Agents {
		for _, h := range ag.Handoffs {
			if !seen[h] {
				return fmt.Errorf("agent %q hands off to unknown agent %q", ag.Name, h)
			}
		}
		for _, tn := range ag.Tools {
			if tools != nil && !tools.Has(tn) {
				return fmt.Errorf("agent %q uses unavailable tool %q", ag.Name, tn)
			}
		}
	}
	for _, role := range []string{def.Roles.Entry, def.Roles.Clarifier, def.Roles.Researcher} {
		if role != "" && !seen[role] {
			return fmt.Errorf("role %q is not an agent", role)
		}
	}
	return nil
}

// HandoffToolName returns the tool name used to transfer to the named agent,
// e.g. "Research Agent" becomes "transfer_to_research_agent".
func HandoffToolName(agent string) string {
	var b strings.Builder
	b.WriteString(handoffPrefix)
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(agent)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
		} else if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// SessionID identifies this agency's conversation memory.
func (a *Agency) SessionID() string { return a.sessionID }

// Roles returns the distinguished role names of the graph.
func (a *Agency) Roles() domain.Roles { return a.def.Roles }

// Stream submits a user message at the entry agent and yields events until an
// agent answers without calling tools.
//
// Provider failures are yielded as error events; internal failures such as
// memory errors are yielded as errors.
func (a *Agency) Stream(ctx context.Context, message string) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		if err := a.appendEntry(ctx, domain.RoleUser, "", domain.ContentTypeText, message); err != nil {
			yield(domain.Event{}, err)
			return
		}

		current := a.def.Roles.Entry
		if !yield(domain.NewAgentSwitched(current), nil) {
			return
		}

		for turn := 0; turn < a.opts.MaxTurns; turn++ {
			next, done, ok := a.turn(ctx, current, yield)
			if !ok || done {
				if done {
					a.maybeCompact(ctx, current)
				}
				return
			}
			if next != current {
				current = next
				if !yield(domain.NewAgentSwitched(current), nil) {
					return
				}
			}
		}
		yield(domain.NewStreamError(fmt.Sprintf("max turns (%d) exceeded", a.opts.MaxTurns)), nil)
	}
}

// turn makes one model call for the named agent. It returns the agent that
// should act next, whether the submission is finished, and false when the
// stream ended early (consumer stopped or an error was yielded).
func (a *Agency) turn(ctx context.Context, name string, yield func(domain.Event, error) bool) (string, bool, bool) {
	agent, _ := a.def.Agent(name)
	modelName := a.modelFor(agent)

	entries, err := a.memory.GetEntries(ctx, a.sessionID, 0)
	if err != nil {
		yield(domain.Event{}, fmt.Errorf("loading conversation: %w", err))
		return "", false, false
	}

	req := &model.Request{
		Model:        modelName,
		Instructions: a.instructions(agent),
		Messages:     entriesToMessages(entries),
		Tools:        a.toolSpecs(agent),
	}
	if agent.Output == domain.OutputClarifications {
		req.OutputName = domain.OutputClarifications
		req.OutputSchema = model.ClarificationsSchema()
	}

	slog.Debug("Agent turn", "agent", name, "model", modelName, "messages", len(req.Messages))
	ms, err := a.provider.Stream(ctx, req)
	if err != nil {
		yield(domain.NewStreamError(fmt.Sprintf("streaming model: %v", err)), nil)
		return "", false, false
	}
	defer ms.Close()

	var text strings.Builder
	var textSignature []byte
	var calls []model.Content
	for {
		chunk, err := ms.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				yield(domain.Event{}, ctx.Err())
			} else {
				yield(domain.NewStreamError(fmt.Sprintf("model response: %v", err)), nil)
			}
			return "", false, false
		}
		if chunk.Text != "" {
			if len(chunk.ThoughtSignature) > 0 {
				textSignature = chunk.ThoughtSignature
			}
			text.WriteString(chunk.Text)
			if !yield(domain.NewTextDelta(chunk.Text), nil) {
				return "", false, false
			}
		}
		if chunk.ToolCall != nil {
			calls = append(calls, model.Content{
				Type:             domain.ContentTypeToolCall,
				ToolCall:         chunk.ToolCall,
				ThoughtSignature: chunk.ThoughtSignature,
			})
		}
	}

	if text.Len() > 0 {
		if err := a.appendEntryModel(ctx, name, modelName, domain.ContentTypeText, text.String(), textSignature); err != nil {
			yield(domain.Event{}, err)
			return "", false, false
		}
		if agent.Output == domain.OutputClarifications {
			if questions, ok := clarify.ParseQuestions(text.String()); ok {
				if !yield(domain.NewStructuredOutput(questions, text.String()), nil) {
					return "", false, false
				}
			}
		}
	}

	if len(calls) == 0 {
		return name, true, true
	}

	next := name
	for _, call := range calls {
		tc := call.ToolCall
		b, err := json.Marshal(tc)
		if err != nil {
			// The turn's content has already been delivered.
			yield(domain.Event{}, fmt.Errorf("%w: %s: %v", domain.ErrToolCallConversion, tc.Name, err))
			return "", false, false
		}
		if err := a.appendEntryModel(ctx, name, modelName, domain.ContentTypeToolCall, string(b), call.ThoughtSignature); err != nil {
			yield(domain.Event{}, err)
			return "", false, false
		}

		var result *domain.ToolResult
		if target, ok := a.handoffs[name][tc.Name]; ok {
			if next == name {
				next = target
				result = &domain.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: fmt.Sprintf(`{"assistant": %q}`, target)}
			} else {
				result = &domain.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: "Error: a handoff already happened in this turn", IsError: true}
			}
		} else {
			if !yield(domain.NewToolAction(tc.Name, a.tools.query(tc), tc.Input), nil) {
				return "", false, false
			}
			if !a.allowed(agent, tc.Name) {
				result = &domain.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: "Error: tool not available to this agent: " + tc.Name, IsError: true}
			} else {
				result = a.tools.execute(ctx, tc)
			}
			if ctx.Err() != nil {
				yield(domain.Event{}, ctx.Err())
				return "", false, false
			}
		}

		rb, _ := json.Marshal(result)
		if err := a.appendEntry(ctx, domain.RoleTool, name, domain.ContentTypeToolResult, string(rb)); err != nil {
			yield(domain.Event{}, err)
			return "", false, false
		}
	}
	return next, false, true
}

func (a *Agency) modelFor(agent domain.Agent) string {
	if agent.Model != "" {
		return agent.Model
	}
	return a.def.Model
}

func (a *Agency) allowed(agent domain.Agent, tool string) bool {
	for _, t := range agent.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

func (a *Agency) toolSpecs(agent domain.Agent) []model.ToolSpec {
	var specs []model.ToolSpec
	for _, tn := range agent.Tools {
		if s, ok := a.tools.spec(tn); ok {
			specs = append(specs, s)
		}
	}
	for _, target := range agent.Handoffs {
		desc := "Hand the conversation to " + target + "."
		if t, ok := a.def.Agent(target); ok && t.Description != "" {
			desc += " " + t.Description
		}
		specs = append(specs, model.ToolSpec{
			Name:        HandoffToolName(target),
			Description: desc,
			Parameters:  &model.Schema{Type: "object", Properties: map[string]*model.Schema{}},
		})
	}
	return specs
}

// instructions combines the agent's own instructions with a description of
// the agents it can hand off to.
func (a *Agency) instructions(agent domain.Agent) string {
	if len(agent.Handoffs) == 0 {
		return agent.Instructions
	}
	parts := []string{agent.Instructions, "## Handoffs"}
	for _, target := range agent.Handoffs {
		line := fmt.Sprintf("- %s: call %s", target, HandoffToolName(target))
		if t, ok := a.def.Agent(target); ok && t.Description != "" {
			line += ". " + t.Description
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, "\n\n")
}

func (a *Agency) appendEntry(ctx context.Context, role domain.Role, agent, contentType, content string) error {
	err := a.memory.Append(ctx, &domain.StreamEntry{
		ID:          uuid.New().String(),
		SessionID:   a.sessionID,
		Role:        role,
		Agent:       agent,
		ContentType: contentType,
		Content:     content,
	})
	if err != nil {
		return fmt.Errorf("appending %s entry: %w", role, err)
	}
	return nil
}

func (a *Agency) appendEntryModel(ctx context.Context, agent, modelName, contentType, content string, signature []byte) error {
	err := a.memory.Append(ctx, &domain.StreamEntry{
		ID:               uuid.New().String(),
		SessionID:        a.sessionID,
		Role:             domain.RoleAssistant,
		Agent:            agent,
		ContentType:      contentType,
		Content:          content,
		Model:            modelName,
		ThoughtSignature: signature,
	})
	if err != nil {
		return fmt.Errorf("appending response: %w", err)
	}
	return nil
}

// entriesToMessages converts conversation entries to model messages, merging
// consecutive entries of the same role into one message.
func entriesToMessages(entries []domain.StreamEntry) []model.Message {
	var messages []model.Message
	for _, e := range entries {
		var c model.Content
		switch e.ContentType {
		case domain.ContentTypeText:
			c = model.Content{Type: domain.ContentTypeText, Text: e.Content, ThoughtSignature: e.ThoughtSignature}
		case domain.ContentTypeToolCall:
			var tc domain.ToolCall
			json.Unmarshal([]byte(e.Content), &tc)
			c = model.Content{Type: domain.ContentTypeToolCall, ToolCall: &tc, ThoughtSignature: e.ThoughtSignature}
		case domain.ContentTypeToolResult:
			var tr domain.ToolResult
			json.Unmarshal([]byte(e.Content), &tr)
			c = model.Content{Type: domain.ContentTypeToolResult, ToolResult: &tr}
		default:
			continue
		}

		if n := len(messages); n > 0 && messages[n-1].Role == e.Role && e.Role != domain.RoleCompactionSummary {
			messages[n-1].Content = append(messages[n-1].Content, c)
			continue
		}
		messages = append(messages, model.Message{Role: e.Role, Content: []model.Content{c}})
	}
	return messages
}
