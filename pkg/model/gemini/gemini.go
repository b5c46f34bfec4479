package gemini

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
	"google.golang.org/genai"
)

// Provider implements model.Provider using the Google Gen AI SDK.
type Provider struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new Gemini provider.
func New(ctx context.Context, apiKey string) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "gemini" }

// List returns available Gemini models.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	for m, err := range p.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}

		// Filter for models that support generateContent.
		supportsGenerate := false
		if !strings.Contains(strings.ToLower(m.Name), "gemma") {
			for _, action := range m.SupportedActions {
				if action == "generateContent" {
					supportsGenerate = true
					break
				}
			}
		}

		if supportsGenerate {
			models = append(models, domain.Model{
				ID:        m.Name,
				Name:      m.DisplayName,
				Provider:  "gemini",
				MaxTokens: int(m.InputTokenLimit),
			})
		}
	}
	return models, nil
}

// Stream sends a conversation context to the LLM and returns a stream.
func (p *Provider) Stream(ctx context.Context, req *model.Request) (model.ModelStream, error) {
	slog.Debug("Gemini.Stream", "model", req.Model, "messageCount", len(req.Messages), "tools", len(req.Tools))

	config := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.Instructions}},
		}
	}
	// Gemini rejects function calling combined with a JSON response type, so
	// structured output turns run without tools.
	if req.OutputSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toGenaiSchema(req.OutputSchema)
	} else if len(req.Tools) > 0 {
		config.Tools = buildToolDeclarations(req.Tools)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(p.client.Models.GenerateContentStream(streamCtx, req.Model, toContents(req.Messages), config))

	return &geminiStream{
		next:   next,
		stop:   stop,
		cancel: cancel,
	}, nil
}

func toContents(messages []model.Message) []*genai.Content {
	var contents []*genai.Content
	toolNameMap := make(map[string]string) // tool call ID -> name

	for _, msg := range messages {
		if msg.Role == domain.RoleSystem || msg.Role == domain.RoleCompactionSummary {
			// Compaction summaries and handoff notices are treated as model context.
			var parts []*genai.Part
			for _, c := range msg.Content {
				if c.Text != "" {
					parts = append(parts, &genai.Part{Text: c.Text})
				}
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
			continue
		}

		var parts []*genai.Part
		for _, c := range msg.Content {
			switch c.Type {
			case domain.ContentTypeText:
				parts = append(parts, &genai.Part{
					Text:             c.Text,
					ThoughtSignature: c.ThoughtSignature,
				})
			case domain.ContentTypeToolCall:
				if c.ToolCall != nil {
					toolNameMap[c.ToolCall.ID] = c.ToolCall.Name
					parts = append(parts, &genai.Part{
						FunctionCall: &genai.FunctionCall{
							Name: c.ToolCall.Name,
							Args: c.ToolCall.Input,
							ID:   c.ToolCall.ID,
						},
						ThoughtSignature: c.ThoughtSignature,
					})
				}
			case domain.ContentTypeToolResult:
				if c.ToolResult != nil {
					name := c.ToolResult.Name
					if name == "" {
						name = toolNameMap[c.ToolResult.ToolCallID]
					}
					parts = append(parts, &genai.Part{
						FunctionResponse: &genai.FunctionResponse{
							Name: name,
							ID:   c.ToolResult.ToolCallID,
							Response: map[string]any{
								"result": c.ToolResult.Content,
							},
						},
					})
				}
			}
		}

		role := "user"
		if msg.Role == domain.RoleAssistant {
			role = "model"
		}

		if len(parts) > 0 {
			contents = append(contents, &genai.Content{
				Role:  role,
				Parts: parts,
			})
		}
	}
	return contents
}

func buildToolDeclarations(specs []model.ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  toGenaiSchema(s.Parameters),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func toGenaiSchema(s *model.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = toGenaiSchema(p)
		}
	}
	return out
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// geminiStream wraps the Gemini streaming iterator.
type geminiStream struct {
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	cancel  context.CancelFunc
	pending []model.Chunk
}

func (s *geminiStream) Next() (model.Chunk, error) {
	for len(s.pending) == 0 {
		resp, err, ok := s.next()
		if !ok {
			return model.Chunk{}, io.EOF
		}
		if err != nil {
			return model.Chunk{}, err
		}
		if resp == nil {
			continue
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part.Thought {
					continue
				}
				if part.Text != "" {
					s.pending = append(s.pending, model.Chunk{
						Text:             part.Text,
						ThoughtSignature: part.ThoughtSignature,
					})
				}
				if part.FunctionCall != nil {
					fc := part.FunctionCall
					id := fc.ID
					if id == "" {
						id = "call-" + uuid.New().String()
					}
					s.pending = append(s.pending, model.Chunk{
						ToolCall: &domain.ToolCall{
							ID:    id,
							Name:  fc.Name,
							Input: fc.Args,
						},
						ThoughtSignature: part.ThoughtSignature,
					})
				}
			}
		}
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, nil
}

func (s *geminiStream) Close() error {
	s.stop()
	s.cancel()
	return nil
}
