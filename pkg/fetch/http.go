// Package fetch retrieves web pages as plain text for the fetch_url tool.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const maxFetchBytes = 32 * 1024 // keep tool results within a sane share of the context window

// HTTPFetcher retrieves readable text from a URL.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTP creates a HTTP fetcher with a modest timeout.
func NewHTTP() *HTTPFetcher {
	return &HTTPFetcher{client: &http.Client{Timeout: 15 * time.Second}}
}

// Fetch downloads the URL content, reduces HTML to plain text, and truncates.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return "", errors.New("fetch url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("fetch http %d: %s", resp.StatusCode, string(body))
	}

	// Read a bounded prefix; pages larger than this are mostly markup anyway.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8*maxFetchBytes))
	if err != nil {
		return "", err
	}

	text := string(body)
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/plain") {
		text, err = extractText(strings.NewReader(text))
		if err != nil {
			return "", err
		}
	}
	if len(text) > maxFetchBytes {
		text = text[:maxFetchBytes] + "\n[TRUNCATED]"
	}
	return text, nil
}

// skipped elements never contribute readable text.
var skipped = map[string]bool{
	"script": true, "style": true, "nav": true, "header": true,
	"footer": true, "noscript": true, "svg": true, "head": true,
}

// block elements start a new line.
var block = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "pre": true, "blockquote": true, "table": true, "ul": true, "ol": true,
}

// extractText walks the parsed document and keeps visible text, one line per block.
func extractText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			if skipped[n.Data] {
				return
			}
			if block[n.Data] {
				b.WriteByte('\n')
			}
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && block[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(doc)

	var out []string
	for _, line := range strings.Split(b.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n"), nil
}
