package agency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
	"github.com/nstogner/agency/pkg/search"
	"github.com/nstogner/agency/pkg/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider replays one chunk list per Stream call.
type scriptedProvider struct {
	mu       sync.Mutex
	turns    [][]model.Chunk
	requests []*model.Request
	models   []domain.Model
	err      error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) List(ctx context.Context) ([]domain.Model, error) {
	return p.models, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req *model.Request) (model.ModelStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.turns) == 0 {
		return &sliceStream{chunks: []model.Chunk{{Text: "(no script)"}}}, nil
	}
	t := p.turns[0]
	p.turns = p.turns[1:]
	return &sliceStream{chunks: t}, nil
}

type sliceStream struct {
	chunks []model.Chunk
	i      int
}

func (s *sliceStream) Next() (model.Chunk, error) {
	if s.i >= len(s.chunks) {
		return model.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *sliceStream) Close() error { return nil }

type fakeSearch struct{ queries []string }

func (f *fakeSearch) Search(ctx context.Context, q string) ([]search.Result, error) {
	f.queries = append(f.queries, q)
	return []search.Result{{Title: "Solar report", URL: "https://example.com/solar", Snippet: "costs fell"}}, nil
}

func newTestMemory(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func deepDef() domain.AgencyDef {
	return domain.AgencyDef{
		Name:  "deep",
		Model: "test-model",
		Roles: domain.Roles{Entry: "Triage", Clarifier: "Clarifier", Researcher: "Researcher"},
		Agents: []domain.Agent{
			{Name: "Triage", Instructions: "route", Handoffs: []string{"Clarifier", "Researcher"}},
			{Name: "Clarifier", Instructions: "ask", Output: domain.OutputClarifications, Handoffs: []string{"Researcher"}},
			{Name: "Researcher", Description: "Does the research.", Instructions: "research", Tools: []string{ToolWebSearch}},
		},
	}
}

func collect(t *testing.T, a *Agency, msg string) ([]domain.Event, error) {
	t.Helper()
	var events []domain.Event
	for e, err := range a.Stream(context.Background(), msg) {
		if err != nil {
			return events, err
		}
		events = append(events, e)
	}
	return events, nil
}

func types(events []domain.Event) []domain.EventType {
	var out []domain.EventType
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func handoff(id, target string) model.Chunk {
	return model.Chunk{ToolCall: &domain.ToolCall{ID: id, Name: HandoffToolName(target), Input: map[string]any{}}}
}

func TestHandoffToolName(t *testing.T) {
	assert.Equal(t, "transfer_to_research_agent", HandoffToolName("Research Agent"))
	assert.Equal(t, "transfer_to_clarifying_questions_agent", HandoffToolName("Clarifying  Questions Agent!"))
	assert.Equal(t, "transfer_to_triage", HandoffToolName("Triage"))
}

func TestValidate(t *testing.T) {
	tools := NewToolbox(&fakeSearch{}, nil, nil)
	require.NoError(t, Validate(deepDef(), tools))

	def := deepDef()
	def.Agents[0].Handoffs = append(def.Agents[0].Handoffs, "Ghost")
	assert.ErrorContains(t, Validate(def, tools), "unknown agent")

	def = deepDef()
	def.Agents[2].Tools = []string{ToolFetchURL}
	assert.ErrorContains(t, Validate(def, tools), "unavailable tool")

	def = deepDef()
	def.Roles.Researcher = "Nobody"
	assert.ErrorContains(t, Validate(def, tools), "not an agent")

	def = deepDef()
	def.Model = ""
	assert.ErrorContains(t, Validate(def, tools), "no model")

	def = deepDef()
	def.Agents = append(def.Agents, domain.Agent{Name: "Triage"})
	assert.ErrorContains(t, Validate(def, tools), "duplicate")
}

func TestStreamHandoffsAndTools(t *testing.T) {
	p := &scriptedProvider{turns: [][]model.Chunk{
		{{Text: "Routing."}, handoff("h1", "Researcher")},
		{{ToolCall: &domain.ToolCall{ID: "s1", Name: ToolWebSearch, Input: map[string]any{"query": "solar costs"}}}},
		{{Text: "Solar costs "}, {Text: "fell."}},
	}}
	searcher := &fakeSearch{}
	a, err := New(deepDef(), p, newTestMemory(t), NewToolbox(searcher, nil, nil), Options{})
	require.NoError(t, err)

	events, err := collect(t, a, "solar?")
	require.NoError(t, err)

	assert.Equal(t, []domain.EventType{
		domain.EventAgentSwitched,
		domain.EventTextDelta,
		domain.EventAgentSwitched,
		domain.EventToolAction,
		domain.EventTextDelta,
		domain.EventTextDelta,
	}, types(events))
	assert.Equal(t, "Triage", events[0].AgentSwitch.Agent)
	assert.Equal(t, "Researcher", events[2].AgentSwitch.Agent)
	assert.Equal(t, ToolWebSearch, events[3].ToolAction.Kind)
	assert.Equal(t, "solar costs", events[3].ToolAction.Query)
	assert.Equal(t, []string{"solar costs"}, searcher.queries)

	// Handoff guidance goes to triage only; the researcher gets its own tools.
	require.Len(t, p.requests, 3)
	assert.Contains(t, p.requests[0].Instructions, "transfer_to_researcher")
	assert.Contains(t, p.requests[0].Instructions, "Does the research.")
	assert.Equal(t, "research", p.requests[1].Instructions)
	require.Len(t, p.requests[1].Tools, 1)
	assert.Equal(t, ToolWebSearch, p.requests[1].Tools[0].Name)

	// The last request carries the search result back to the model.
	last := p.requests[2].Messages[len(p.requests[2].Messages)-1]
	assert.Equal(t, domain.RoleTool, last.Role)
	require.NotNil(t, last.Content[0].ToolResult)
	assert.Contains(t, last.Content[0].ToolResult.Content, "https://example.com/solar")
}

func TestStreamKeepsThoughtSignatures(t *testing.T) {
	call := handoff("h1", "Researcher")
	call.ThoughtSignature = []byte("sig-call")
	p := &scriptedProvider{turns: [][]model.Chunk{
		{{Text: "Routing.", ThoughtSignature: []byte("sig-text")}, call},
		{{Text: "done"}},
	}}
	a, err := New(deepDef(), p, newTestMemory(t), NewToolbox(&fakeSearch{}, nil, nil), Options{})
	require.NoError(t, err)

	_, err = collect(t, a, "solar?")
	require.NoError(t, err)

	require.Len(t, p.requests, 2)
	msgs := p.requests[1].Messages
	require.Len(t, msgs, 3)
	assistant := msgs[1]
	require.Len(t, assistant.Content, 2)
	assert.Equal(t, []byte("sig-text"), assistant.Content[0].ThoughtSignature)
	assert.Equal(t, []byte("sig-call"), assistant.Content[1].ThoughtSignature)
}

func TestStreamStructuredOutput(t *testing.T) {
	p := &scriptedProvider{turns: [][]model.Chunk{
		{handoff("h1", "Clarifier")},
		{{Text: `{"questions": ["What budget?", "Which region?"]}`}},
	}}
	a, err := New(deepDef(), p, newTestMemory(t), NewToolbox(&fakeSearch{}, nil, nil), Options{})
	require.NoError(t, err)

	events, err := collect(t, a, "e-bikes")
	require.NoError(t, err)

	require.Equal(t, []domain.EventType{
		domain.EventAgentSwitched,
		domain.EventAgentSwitched,
		domain.EventTextDelta,
		domain.EventStructuredOutput,
	}, types(events))
	assert.Equal(t, []string{"What budget?", "Which region?"}, events[3].Structured.Questions)

	require.Len(t, p.requests, 2)
	assert.Equal(t, domain.OutputClarifications, p.requests[1].OutputName)
	assert.NotNil(t, p.requests[1].OutputSchema)
}

func TestStreamMemoryAcrossSubmissions(t *testing.T) {
	p := &scriptedProvider{turns: [][]model.Chunk{
		{{Text: "first answer"}},
		{{Text: "second answer"}},
	}}
	def := domain.AgencyDef{
		Name: "basic", Model: "test-model",
		Roles:  domain.Roles{Entry: "Assistant"},
		Agents: []domain.Agent{{Name: "Assistant", Instructions: "help"}},
	}
	a, err := New(def, p, newTestMemory(t), nil, Options{SessionID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, "s1", a.SessionID())

	_, err = collect(t, a, "one")
	require.NoError(t, err)
	_, err = collect(t, a, "two")
	require.NoError(t, err)

	msgs := p.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content[0].Text)
	assert.Equal(t, "first answer", msgs[1].Content[0].Text)
	assert.Equal(t, "two", msgs[2].Content[0].Text)
}

func TestStreamProviderError(t *testing.T) {
	p := &scriptedProvider{err: errors.New("quota exhausted")}
	a, err := New(deepDef(), p, newTestMemory(t), NewToolbox(&fakeSearch{}, nil, nil), Options{})
	require.NoError(t, err)

	events, err := collect(t, a, "q")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventError, events[1].Type)
	assert.Contains(t, events[1].Error.Message, "quota exhausted")
}

func TestStreamMaxTurns(t *testing.T) {
	loop := func() []model.Chunk {
		return []model.Chunk{{ToolCall: &domain.ToolCall{ID: "s", Name: ToolWebSearch, Input: map[string]any{"query": "x"}}}}
	}
	p := &scriptedProvider{turns: [][]model.Chunk{loop(), loop(), loop()}}
	def := deepDef()
	def.Roles.Entry = "Researcher"
	a, err := New(def, p, newTestMemory(t), NewToolbox(&fakeSearch{}, nil, nil), Options{MaxTurns: 2})
	require.NoError(t, err)

	events, err := collect(t, a, "q")
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventError, last.Type)
	assert.Contains(t, last.Error.Message, "max turns")
}

func TestStreamDisallowedTool(t *testing.T) {
	p := &scriptedProvider{turns: [][]model.Chunk{
		{{ToolCall: &domain.ToolCall{ID: "s1", Name: ToolWebSearch, Input: map[string]any{"query": "x"}}}},
		{{Text: "ok"}},
	}}
	searcher := &fakeSearch{}
	a, err := New(deepDef(), p, newTestMemory(t), NewToolbox(searcher, nil, nil), Options{})
	require.NoError(t, err)

	_, err = collect(t, a, "q")
	require.NoError(t, err)
	assert.Empty(t, searcher.queries, "triage has no tools")

	last := p.requests[1].Messages[len(p.requests[1].Messages)-1]
	require.NotNil(t, last.Content[0].ToolResult)
	assert.True(t, last.Content[0].ToolResult.IsError)
}

func TestStreamCompaction(t *testing.T) {
	long := strings.Repeat("word ", 100)
	var turns [][]model.Chunk
	for i := 0; i < 5; i++ {
		turns = append(turns, []model.Chunk{{Text: long}})
	}
	turns = append(turns, []model.Chunk{{Text: "summary of things"}})
	p := &scriptedProvider{
		turns:  turns,
		models: []domain.Model{{ID: "test-model", MaxTokens: 500}},
	}
	def := domain.AgencyDef{
		Name: "basic", Model: "test-model",
		Roles:  domain.Roles{Entry: "Assistant"},
		Agents: []domain.Agent{{Name: "Assistant", Instructions: "help"}},
	}
	mem := newTestMemory(t)
	a, err := New(def, p, mem, nil, Options{SessionID: "s1"})
	require.NoError(t, err)

	// The fifth submission leaves ten entries over the threshold, so a
	// summary request follows it.
	for i := 0; i < 5; i++ {
		_, err := collect(t, a, fmt.Sprintf("q%d %s", i, long))
		require.NoError(t, err)
	}
	require.Len(t, p.requests, 6)

	entries, err := mem.GetEntries(context.Background(), "s1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	assert.Equal(t, domain.RoleCompactionSummary, entries[0].Role)
	assert.Equal(t, "summary of things", entries[0].Content)
	// The newer half is kept verbatim after the summary.
	assert.Equal(t, domain.RoleAssistant, entries[1].Role)
	assert.True(t, strings.HasPrefix(entries[2].Content, "q3 "))
	assert.True(t, strings.HasPrefix(entries[4].Content, "q4 "))
}

func TestCompactionSplit(t *testing.T) {
	e := func(role domain.Role, ct string) domain.StreamEntry {
		return domain.StreamEntry{Role: role, ContentType: ct}
	}
	entries := []domain.StreamEntry{
		e(domain.RoleUser, domain.ContentTypeText),
		e(domain.RoleAssistant, domain.ContentTypeText),
		e(domain.RoleAssistant, domain.ContentTypeToolCall),
		e(domain.RoleTool, domain.ContentTypeToolResult),
		e(domain.RoleAssistant, domain.ContentTypeText),
		e(domain.RoleUser, domain.ContentTypeText),
	}
	// Half is index 3, a tool result; the split backs up past its call.
	assert.Equal(t, 1, compactionSplit(entries))
}

func TestEntriesToMessagesMerges(t *testing.T) {
	entries := []domain.StreamEntry{
		{Role: domain.RoleUser, ContentType: domain.ContentTypeText, Content: "hi"},
		{Role: domain.RoleAssistant, ContentType: domain.ContentTypeText, Content: "let me look"},
		{Role: domain.RoleAssistant, ContentType: domain.ContentTypeToolCall, Content: `{"id":"c1","name":"web_search","input":{"query":"x"}}`},
		{Role: domain.RoleTool, ContentType: domain.ContentTypeToolResult, Content: `{"tool_call_id":"c1","content":"r"}`},
		{Role: domain.RoleAssistant, ContentType: domain.ContentTypeText, Content: "done"},
	}
	msgs := entriesToMessages(entries)
	require.Len(t, msgs, 4)
	require.Len(t, msgs[1].Content, 2)
	assert.Equal(t, "web_search", msgs[1].Content[1].ToolCall.Name)
	assert.Equal(t, "c1", msgs[2].Content[0].ToolResult.ToolCallID)
}
