package report

import (
	"net/url"
	"strings"
)

// Reference is a cited URL, numbered in order of first appearance.
type Reference struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// references numbers URLs as the document renders.
type references struct {
	byURL map[string]int
	list  []Reference
}

func newReferences() *references {
	return &references{byURL: map[string]int{}}
}

// cite returns the reference number for u, registering it on first use.
// An empty title falls back to the URL's domain.
func (r *references) cite(u, title string) int {
	if n, ok := r.byURL[u]; ok {
		return n
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = domainOf(u)
	}
	n := len(r.list) + 1
	r.byURL[u] = n
	r.list = append(r.list, Reference{Number: n, Title: title, URL: u})
	return n
}

// domainOf returns the host of u without a leading "www.".
func domainOf(u string) string {
	raw := u
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return u
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}
