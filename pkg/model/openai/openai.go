// Package openai implements model.Provider for OpenAI-compatible chat
// completion APIs.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
)

// Provider implements model.Provider using the OpenAI Go SDK.
type Provider struct {
	client openai.Client
}

// Verify interface compliance.
var _ model.Provider = (*Provider)(nil)

// New creates a new OpenAI provider. An empty baseURL uses the public API.
func New(apiKey, baseURL string) *Provider {
	var opts []openaiopt.RequestOption
	if apiKey != "" {
		opts = append(opts, openaiopt.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// List returns the models visible to the configured key.
func (p *Provider) List(ctx context.Context) ([]domain.Model, error) {
	var models []domain.Model
	pager := p.client.Models.ListAutoPaging(ctx)
	for pager.Next() {
		m := pager.Current()
		models = append(models, domain.Model{ID: m.ID, Name: m.ID, Provider: "openai"})
	}
	if err := pager.Err(); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}

// Stream starts a streaming chat completion.
func (p *Provider) Stream(ctx context.Context, req *model.Request) (model.ModelStream, error) {
	slog.Debug("OpenAI.Stream", "model", req.Model, "messageCount", len(req.Messages), "tools", len(req.Tools))

	params, err := buildParams(req)
	if err != nil {
		return nil, err
	}
	return &openaiStream{stream: p.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

func buildParams(req *model.Request) (openai.ChatCompletionNewParams, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: convertMessages(req.Instructions, req.Messages),
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return params, err
		}
		params.Tools = tools
	}
	if req.OutputSchema != nil {
		name := req.OutputName
		if name == "" {
			name = "output"
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: req.OutputSchema.JSONSchema(),
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params, nil
}

func convertMessages(instructions string, messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	if instructions != "" {
		out = append(out, systemMessage(instructions))
	}

	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem, domain.RoleCompactionSummary:
			out = append(out, systemMessage(textOf(msg)))
		case domain.RoleAssistant:
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if text := textOf(msg); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			for _, c := range msg.Content {
				if c.Type != domain.ContentTypeToolCall || c.ToolCall == nil {
					continue
				}
				args, _ := json.Marshal(c.ToolCall.Input)
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.ToolCall.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case domain.RoleTool:
			for _, c := range msg.Content {
				if c.ToolResult == nil {
					continue
				}
				out = append(out, openai.ChatCompletionMessageParamUnion{
					OfTool: &openai.ChatCompletionToolMessageParam{
						Content: openai.ChatCompletionToolMessageParamContentUnion{
							OfString: openai.String(c.ToolResult.Content),
						},
						ToolCallID: c.ToolResult.ToolCallID,
					},
				})
			}
		default:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(textOf(msg)),
					},
				},
			})
		}
	}
	return out
}

func systemMessage(text string) openai.ChatCompletionMessageParamUnion {
	return openai.ChatCompletionMessageParamUnion{
		OfSystem: &openai.ChatCompletionSystemMessageParam{
			Content: openai.ChatCompletionSystemMessageParamContentUnion{
				OfString: openai.String(text),
			},
		},
	}
}

func textOf(msg model.Message) string {
	var text string
	for _, c := range msg.Content {
		if c.Type == domain.ContentTypeText {
			text += c.Text
		}
	}
	return text
}

func convertTools(specs []model.ToolSpec) ([]openai.ChatCompletionToolParam, error) {
	var result []openai.ChatCompletionToolParam
	for _, s := range specs {
		// Round-trip through JSON to get the SDK's parameter map.
		schemaBytes, err := json.Marshal(s.Parameters.JSONSchema())
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", s.Name, err)
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			return nil, fmt.Errorf("unmarshal schema for %s: %w", s.Name, err)
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        s.Name,
				Description: openai.String(s.Description),
				Parameters:  parameters,
			},
		})
	}
	return result, nil
}

// openaiStream adapts the SDK's SSE stream. Text deltas are surfaced as they
// arrive; tool calls are assembled by the accumulator and surfaced once the
// response is complete.
type openaiStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	acc    openai.ChatCompletionAccumulator
	done   bool
	calls  []model.Chunk
}

func (s *openaiStream) Next() (model.Chunk, error) {
	for !s.done {
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				return model.Chunk{}, err
			}
			s.done = true
			s.calls = s.toolCalls()
			break
		}
		chunk := s.stream.Current()
		s.acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return model.Chunk{Text: chunk.Choices[0].Delta.Content}, nil
		}
	}

	if len(s.calls) == 0 {
		return model.Chunk{}, io.EOF
	}
	c := s.calls[0]
	s.calls = s.calls[1:]
	return c, nil
}

func (s *openaiStream) toolCalls() []model.Chunk {
	if len(s.acc.Choices) == 0 {
		return nil
	}
	var out []model.Chunk
	for i, tc := range s.acc.Choices[0].Message.ToolCalls {
		// The accumulator leaves empty slots when indices start above zero.
		if tc.Function.Name == "" && tc.ID == "" {
			continue
		}
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", i)
		}
		input := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				slog.Warn("OpenAI tool call arguments are not JSON", "tool", tc.Function.Name, "error", err)
				input = map[string]any{"raw": tc.Function.Arguments}
			}
		}
		out = append(out, model.Chunk{ToolCall: &domain.ToolCall{ID: id, Name: tc.Function.Name, Input: input}})
	}
	return out
}

func (s *openaiStream) Close() error {
	return s.stream.Close()
}
