package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// SearXNG queries a self-hosted SearXNG instance. It is the fallback
// when the Google quota is spent.
type SearXNG struct {
	endpoint string
	client   *http.Client
}

// NewSearXNG returns a provider for the instance rooted at baseURL,
// for example "http://searxng.lan:8080".
func NewSearXNG(baseURL string) *SearXNG {
	return &SearXNG{
		endpoint: strings.TrimRight(baseURL, "/") + "/search",
		client:   httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

func (s *SearXNG) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("safesearch", "1")
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	limit := opts.Count
	if limit <= 0 {
		limit = 5
	}

	var body struct {
		Results []searxngHit `json:"results"`
	}
	headers := map[string]string{"Accept": "application/json"}
	if err := httpkit.GetJSON(ctx, s.client, s.endpoint+"?"+q.Encode(), headers, &body); err != nil {
		return nil, fmt.Errorf("searxng: %w", err)
	}

	// SearXNG merges engines, so the same page can appear twice.
	seen := make(map[string]bool, len(body.Results))
	var results []Result
	for _, hit := range body.Results {
		if len(results) == limit {
			break
		}
		if hit.URL == "" || seen[hit.URL] {
			continue
		}
		seen[hit.URL] = true
		results = append(results, Result{
			Title:   CleanText(hit.Title),
			URL:     hit.URL,
			Snippet: CleanText(hit.Content),
		})
	}
	return results, nil
}
