// Package search provides web search backends for the web_search tool.
package search

import (
	"context"
	"fmt"
	"strings"
)

// maxResults caps the number of results any backend returns.
const maxResults = 5

// Result is a single item returned by a Provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Provider executes a query and returns results.
type Provider interface {
	Search(ctx context.Context, query string) ([]Result, error)
}

// Format renders results as a numbered list for a model to read.
func Format(results []Result) string {
	if len(results) == 0 {
		return "No results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
