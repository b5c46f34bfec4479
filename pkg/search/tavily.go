package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const tavilyEndpoint = "https://api.tavily.com/search"

// Tavily calls the Tavily search API.
type Tavily struct {
	APIKey string
	// Depth controls Tavily's search_depth parameter (basic or advanced).
	Depth    string
	endpoint string
	client   *http.Client
}

// NewTavily constructs a Tavily search provider.
func NewTavily(apiKey, depth string) *Tavily {
	if depth == "" {
		depth = "basic"
	}
	return &Tavily{
		APIKey:   apiKey,
		Depth:    depth,
		endpoint: tavilyEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Search posts a query to Tavily, backing off on 429 responses.
func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(t.APIKey) == "" {
		return nil, errors.New("tavily: API key is missing")
	}

	payload, err := json.Marshal(map[string]any{
		"query":        query,
		"api_key":      t.APIKey,
		"search_depth": t.Depth,
		"max_results":  maxResults,
	})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = t.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tavily: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

		// Back off and retry on 429, doubling the delay each time up to 30 s.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily http %d", resp.StatusCode)
	}

	var response struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("tavily: decoding response: %w", err)
	}

	results := make([]Result, 0, len(response.Results))
	for _, r := range response.Results {
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Content})
		if len(results) >= maxResults {
			break
		}
	}
	return results, nil
}
