package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

const googleAPIURL = "https://www.googleapis.com/customsearch/v1"

// Google implements the Provider interface for the Google Custom Search
// JSON API.
type Google struct {
	apiKey     string
	cx         string
	endpoint   string
	httpClient *http.Client
}

// NewGoogle creates a Google Custom Search provider.
func NewGoogle(apiKey, cx string) *Google {
	return &Google{
		apiKey:   apiKey,
		cx:       cx,
		endpoint: googleAPIURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

func (g *Google) Name() string { return "google" }

type googleResponse struct {
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (g *Google) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	count := opts.Count
	if count <= 0 || count > 10 {
		count = 5
	}
	params := url.Values{
		"key": {g.apiKey},
		"cx":  {g.cx},
		"q":   {query},
		"num": {strconv.Itoa(count)},
	}
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}

	var gr googleResponse
	err := httpkit.GetJSON(ctx, g.httpClient, g.endpoint+"?"+params.Encode(), nil, &gr)
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return nil, ErrQuotaExceeded
	}
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	results := make([]Result, 0, len(gr.Items))
	for _, it := range gr.Items {
		results = append(results, Result{
			Title:   CleanText(it.Title),
			URL:     it.Link,
			Snippet: CleanText(it.Snippet),
		})
	}
	return results, nil
}
