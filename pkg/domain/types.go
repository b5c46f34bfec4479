package domain

import (
	"errors"
	"time"
)

// ErrToolCallConversion is raised when a completed turn's tool call cannot be
// converted into a conversation entry. It only happens after the stream has
// delivered all of its content.
var ErrToolCallConversion = errors.New("failed to convert tool call item to input item")

// Agent is the definition of one role in an agency.
type Agent struct {
	Name string `json:"name" yaml:"name"`
	// Description tells other agents when to hand off to this one.
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Handoffs     []string `json:"handoffs,omitempty" yaml:"handoffs,omitempty"`
	// Output names a structured output schema. The only supported value is
	// OutputClarifications.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
}

// AgencyDef is a declarative agent graph: the agents, their handoff edges and
// the distinguished roles.
type AgencyDef struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Model is used by agents that do not name their own.
	Model  string  `json:"model,omitempty" yaml:"model,omitempty"`
	Roles  Roles   `json:"roles" yaml:",inline"`
	Agents []Agent `json:"agents" yaml:"agents"`
}

// Agent returns the named agent.
func (d AgencyDef) Agent(name string) (Agent, bool) {
	for _, a := range d.Agents {
		if a.Name == name {
			return a, true
		}
	}
	return Agent{}, false
}

// OutputClarifications selects the clarification question schema.
const OutputClarifications = "clarifications"

// Clarifications is the structured output of a clarifier agent.
type Clarifications struct {
	Questions []string `json:"questions"`
}

// Result is the outcome of one research session.
type Result struct {
	// FullText holds only the terminal researcher's text.
	FullText string `json:"full_text"`
	// Completed is set once the researcher has produced any text.
	Completed bool `json:"completed"`
}

// StreamEntry represents a single entry in a session's conversation memory.
type StreamEntry struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Role             Role      `json:"role"`
	Agent            string    `json:"agent,omitempty"`
	ContentType      string    `json:"content_type"` // "text", "tool_call", "tool_result"
	Content          string    `json:"content"`      // Text content or JSON-encoded tool call/result
	Model            string    `json:"model,omitempty"`
	ThoughtSignature []byte    `json:"thought_signature,omitempty"` // Opaque provider signature, sent back with the history
	Timestamp        time.Time `json:"timestamp"`
}

// Document is a local file made searchable through the file_search tool.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report records a persisted research artifact.
type Report struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Chars     int       `json:"chars"`
	CreatedAt time.Time `json:"created_at"`
}

// Model represents an available LLM model.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ToolCall represents a tool invocation by the model.
type ToolCall struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ToolResult represents the outcome of a tool call execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}
