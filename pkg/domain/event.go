package domain

// EventType identifies the kind of a stream event.
type EventType string

const (
	EventAgentSwitched    EventType = "agent_switched"
	EventTextDelta        EventType = "text_delta"
	EventToolAction       EventType = "tool_action"
	EventStructuredOutput EventType = "structured_output"
	EventError            EventType = "error"
)

// Event is one unit of the response stream an agency produces for a single
// submission. It is a tagged union: only the payload matching Type is set.
type Event struct {
	Type EventType `json:"type"`

	AgentSwitch *AgentSwitch      `json:"agent_switch,omitempty"`
	TextDelta   *TextDelta        `json:"text_delta,omitempty"`
	ToolAction  *ToolAction       `json:"tool_action,omitempty"`
	Structured  *StructuredOutput `json:"structured,omitempty"`
	Error       *StreamError      `json:"error,omitempty"`
}

// AgentSwitch announces that a different agent is now active.
type AgentSwitch struct {
	Agent string `json:"agent"`
}

// TextDelta carries a fragment of the active agent's text output.
type TextDelta struct {
	Text string `json:"text"`
}

// ToolAction is an observational notice that a tool is being invoked.
type ToolAction struct {
	Kind    string         `json:"kind"`
	Query   string         `json:"query,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// StructuredOutput delivers an agent's parsed output directly.
type StructuredOutput struct {
	Questions []string `json:"questions,omitempty"`
	Raw       string   `json:"raw,omitempty"`
}

// StreamError ends consumption of the stream it appears in.
type StreamError struct {
	Message string `json:"message"`
}

func NewAgentSwitched(agent string) Event {
	return Event{Type: EventAgentSwitched, AgentSwitch: &AgentSwitch{Agent: agent}}
}

func NewTextDelta(text string) Event {
	return Event{Type: EventTextDelta, TextDelta: &TextDelta{Text: text}}
}

func NewToolAction(kind, query string, payload map[string]any) Event {
	return Event{Type: EventToolAction, ToolAction: &ToolAction{Kind: kind, Query: query, Payload: payload}}
}

func NewStructuredOutput(questions []string, raw string) Event {
	return Event{Type: EventStructuredOutput, Structured: &StructuredOutput{Questions: questions, Raw: raw}}
}

func NewStreamError(message string) Event {
	return Event{Type: EventError, Error: &StreamError{Message: message}}
}
