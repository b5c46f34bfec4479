package model

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/nstogner/agency/pkg/domain"
)

// Message represents a message in the model's conversation context.
type Message struct {
	// Role indicates the sender (user, assistant, tool, system).
	Role domain.Role
	// Content holds the message parts.
	Content []Content
}

// Content represents a single component of a message.
type Content struct {
	Type string // "text", "tool_call", "tool_result"

	// Text content (when Type == "text").
	Text string `json:"text,omitempty"`

	// Tool call (when Type == "tool_call").
	ToolCall *domain.ToolCall `json:"tool_call,omitempty"`

	// Tool result (when Type == "tool_result").
	ToolResult *domain.ToolResult `json:"tool_result,omitempty"`

	// ThoughtSignature is an opaque signature for the model's internal state.
	// Must be round-tripped back to the model on the next request.
	ThoughtSignature []byte `json:"thought_signature,omitempty"`
}

// Schema is a provider-neutral subset of JSON Schema used for tool
// parameters and structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ToolSpec declares a function the model may call.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  *Schema
}

// Request is one streaming call for a single agent turn.
type Request struct {
	// Model identifies which model to use (e.g. "gemini-2.5-flash").
	Model string
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation history.
	Messages []Message
	// Tools are the functions offered for this turn.
	Tools []ToolSpec
	// OutputName and OutputSchema request structured JSON output.
	OutputName   string
	OutputSchema *Schema
}

// Chunk is one increment of a model response: either a text fragment or a
// complete tool call.
type Chunk struct {
	Text             string
	ToolCall         *domain.ToolCall
	ThoughtSignature []byte
}

// Provider represents a service that provides LLMs (e.g. Gemini, OpenAI).
type Provider interface {
	// Name returns the provider's identifier (e.g. "gemini", "openai").
	Name() string

	// List returns the available models from this provider.
	List(ctx context.Context) ([]domain.Model, error)

	// Stream sends a conversation context to the LLM and returns a stream of responses.
	Stream(ctx context.Context, req *Request) (ModelStream, error)
}

// ModelStream abstracts the stream of responses from the model.
type ModelStream interface {
	// Next blocks until the next chunk is available. It returns io.EOF once
	// the response is complete.
	Next() (Chunk, error)

	// Close releases resources associated with this stream.
	Close() error
}

// Collect drains the stream and returns the complete assistant message.
func Collect(s ModelStream) (Message, error) {
	var fullText strings.Builder
	var toolCalls []Content
	var textSignature []byte

	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Message{}, err
		}
		if chunk.Text != "" {
			if len(chunk.ThoughtSignature) > 0 {
				textSignature = chunk.ThoughtSignature
			}
			fullText.WriteString(chunk.Text)
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, Content{
				Type:             domain.ContentTypeToolCall,
				ToolCall:         chunk.ToolCall,
				ThoughtSignature: chunk.ThoughtSignature,
			})
		}
	}

	var content []Content
	if fullText.Len() > 0 {
		content = append(content, Content{
			Type:             domain.ContentTypeText,
			Text:             fullText.String(),
			ThoughtSignature: textSignature,
		})
	}
	content = append(content, toolCalls...)

	return Message{Role: domain.RoleAssistant, Content: content}, nil
}

// ClarificationsSchema is the structured output schema of a clarifier agent.
func ClarificationsSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"questions": {
				Type:        "array",
				Description: "Clarifying questions to ask the user before research starts.",
				Items:       &Schema{Type: "string"},
			},
		},
		Required: []string{"questions"},
	}
}

// JSONSchema renders the schema as a JSON Schema document.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	if s.Type == "object" {
		out["additionalProperties"] = false
	}
	return out
}
