package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const ddgEndpoint = "https://lite.duckduckgo.com/lite/"

// ddgLimiter enforces 1 query per second across all DuckDuckGo instances.
var ddgLimiter = rate.NewLimiter(rate.Every(time.Second), 1)

// DuckDuckGo searches through DuckDuckGo's HTML lite interface. It needs no
// API key and is the fallback when Tavily is not configured.
type DuckDuckGo struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewDuckDuckGo creates a DuckDuckGo searcher with a modest timeout.
func NewDuckDuckGo() *DuckDuckGo {
	return &DuckDuckGo{
		endpoint: ddgEndpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		limiter:  ddgLimiter,
	}
}

// Search scrapes the DuckDuckGo lite HTML page for results.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("q", query)

	var resp *http.Response
	delay := 1 * time.Second
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err = d.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("duckduckgo: %w", err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			break
		}
		resp.Body.Close()

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
		return nil, fmt.Errorf("duckduckgo http %d", resp.StatusCode)
	}

	return parseLite(resp.Body)
}

// parseLite extracts results from the lite page: each result is an anchor
// with class "result-link" followed by a cell with class "result-snippet".
func parseLite(r io.Reader) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing duckduckgo html: %w", err)
	}

	var results []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				href := resolveRedirect(attr(n, "href"))
				title := strings.TrimSpace(textContent(n))
				if href != "" && title != "" {
					results = append(results, Result{Title: title, URL: href})
				}
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = strings.Join(strings.Fields(textContent(n)), " ")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
