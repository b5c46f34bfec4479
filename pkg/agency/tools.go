package agency

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/model"
	"github.com/nstogner/agency/pkg/search"
	"github.com/nstogner/agency/pkg/store"
)

// Tool names available to agents.
const (
	ToolWebSearch  = "web_search"
	ToolFetchURL   = "fetch_url"
	ToolFileSearch = "file_search"
)

// Fetcher retrieves the readable text of a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Tool is one function an agent can call.
type Tool struct {
	Spec model.ToolSpec
	// Query extracts the human-readable subject of a call for tool_action events.
	Query func(input map[string]any) string
	Run   func(ctx context.Context, input map[string]any) (string, error)
}

// Toolbox is the registry of tools shared by the agents of an agency.
type Toolbox struct {
	tools map[string]Tool
}

// NewToolbox registers the tools whose backends are available. Nil backends
// leave the corresponding tool out.
func NewToolbox(searcher search.Provider, fetcher Fetcher, docs store.DocumentStore) *Toolbox {
	t := &Toolbox{tools: map[string]Tool{}}
	if searcher != nil {
		t.Register(webSearchTool(searcher))
	}
	if fetcher != nil {
		t.Register(fetchURLTool(fetcher))
	}
	if docs != nil {
		t.Register(fileSearchTool(docs))
	}
	return t
}

// Register adds or replaces a tool.
func (t *Toolbox) Register(tool Tool) {
	t.tools[tool.Spec.Name] = tool
}

// Has reports whether the named tool is registered.
func (t *Toolbox) Has(name string) bool {
	_, ok := t.tools[name]
	return ok
}

// Names returns the registered tool names in sorted order.
func (t *Toolbox) Names() []string {
	names := make([]string, 0, len(t.tools))
	for n := range t.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (t *Toolbox) spec(name string) (model.ToolSpec, bool) {
	tool, ok := t.tools[name]
	return tool.Spec, ok
}

func (t *Toolbox) query(tc *domain.ToolCall) string {
	if tool, ok := t.tools[tc.Name]; ok && tool.Query != nil {
		return tool.Query(tc.Input)
	}
	return ""
}

// execute runs a tool call. Failures are reported to the model as error
// results rather than returned.
func (t *Toolbox) execute(ctx context.Context, tc *domain.ToolCall) *domain.ToolResult {
	tool, ok := t.tools[tc.Name]
	if !ok {
		return &domain.ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Content:    fmt.Sprintf("Error: unknown tool: %s", tc.Name),
			IsError:    true,
		}
	}
	out, err := tool.Run(ctx, tc.Input)
	if err != nil {
		return &domain.ToolResult{
			ToolCallID: tc.ID,
			Name:       tc.Name,
			Content:    fmt.Sprintf("Error: %v", err),
			IsError:    true,
		}
	}
	return &domain.ToolResult{ToolCallID: tc.ID, Name: tc.Name, Content: out}
}

func stringArg(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return strings.TrimSpace(s)
}

func singleStringParam(name, description string) *model.Schema {
	return &model.Schema{
		Type:       "object",
		Properties: map[string]*model.Schema{name: {Type: "string", Description: description}},
		Required:   []string{name},
	}
}

func webSearchTool(searcher search.Provider) Tool {
	return Tool{
		Spec: model.ToolSpec{
			Name:        ToolWebSearch,
			Description: "Search the web. Returns titles, URLs and snippets of the top results.",
			Parameters:  singleStringParam("query", "The search query."),
		},
		Query: func(input map[string]any) string { return stringArg(input, "query") },
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			q := stringArg(input, "query")
			if q == "" {
				return "", fmt.Errorf("'query' parameter is required")
			}
			results, err := searcher.Search(ctx, q)
			if err != nil {
				return "", fmt.Errorf("searching: %w", err)
			}
			return search.Format(results), nil
		},
	}
}

func fetchURLTool(fetcher Fetcher) Tool {
	return Tool{
		Spec: model.ToolSpec{
			Name:        ToolFetchURL,
			Description: "Fetch a web page and return its readable text.",
			Parameters:  singleStringParam("url", "The absolute URL to fetch."),
		},
		Query: func(input map[string]any) string { return stringArg(input, "url") },
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			u := stringArg(input, "url")
			if u == "" {
				return "", fmt.Errorf("'url' parameter is required")
			}
			return fetcher.Fetch(ctx, u)
		},
	}
}

// maxFileSearchResults bounds file_search output.
const maxFileSearchResults = 5

func fileSearchTool(docs store.DocumentStore) Tool {
	return Tool{
		Spec: model.ToolSpec{
			Name:        ToolFileSearch,
			Description: "Search the user's local documents by keyword. Returns matching excerpts.",
			Parameters:  singleStringParam("query", "Keywords to look for."),
		},
		Query: func(input map[string]any) string { return stringArg(input, "query") },
		Run: func(ctx context.Context, input map[string]any) (string, error) {
			q := stringArg(input, "query")
			if q == "" {
				return "", fmt.Errorf("'query' parameter is required")
			}
			found, err := docs.SearchDocuments(ctx, q, maxFileSearchResults)
			if err != nil {
				return "", fmt.Errorf("searching documents: %w", err)
			}
			if len(found) == 0 {
				return "No matching documents.", nil
			}
			var b strings.Builder
			for _, d := range found {
				fmt.Fprintf(&b, "## %s\n%s\n\n", d.Title, excerpt(d.Content, strings.Fields(q)[0], 1500))
			}
			return strings.TrimSpace(b.String()), nil
		},
	}
}

// excerpt returns up to n bytes of content centered on the first match of word.
func excerpt(content, word string, n int) string {
	if len(content) <= n {
		return content
	}
	i := strings.Index(strings.ToLower(content), strings.ToLower(word))
	if i < 0 {
		i = 0
	}
	start := max(0, i-n/2)
	end := min(len(content), start+n)
	start = max(0, end-n)
	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out += "..."
	}
	return out
}
