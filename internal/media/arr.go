// Package media wraps the home media stack: Radarr (movies), Sonarr
// (series), Prowlarr (indexers) and qBittorrent (downloads).
//
// Each client exposes typed calls plus a Query method that renders a
// short summary for the conversation model.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// arrClient is the shared *arr REST transport (X-Api-Key auth).
type arrClient struct {
	name       string
	baseURL    string
	apiKey     string
	apiVersion string
	httpClient *http.Client
}

func newArrClient(name, baseURL, apiKey, apiVersion string) *arrClient {
	return &arrClient{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

// Configured reports whether both URL and API key are set.
func (c *arrClient) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != ""
}

func (c *arrClient) notConfigured() string {
	return fmt.Sprintf("Error: %s URL or API key not configured.", c.name)
}

func (c *arrClient) endpoint(path string, params url.Values) string {
	u := fmt.Sprintf("%s/api/%s/%s", c.baseURL, c.apiVersion, strings.TrimLeft(path, "/"))
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *arrClient) get(ctx context.Context, path string, params url.Values, out any) error {
	return httpkit.GetJSON(ctx, c.httpClient, c.endpoint(path, params), map[string]string{"X-Api-Key": c.apiKey}, out)
}

func (c *arrClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return httpkit.DoJSON(c.httpClient, req, out)
}

// Status returns the application version.
func (c *arrClient) Status(ctx context.Context) (string, error) {
	var st struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, "system/status", nil, &st); err != nil {
		return "", err
	}
	if st.Version == "" {
		st.Version = "Unknown"
	}
	return st.Version, nil
}

// describeError turns a transport failure into a sentence the model
// can relay.
func describeError(service string, err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("%s connection timed out. It may be slow or unresponsive.", service)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Sprintf("%s is not responding. It may be offline or the URL is incorrect.", service)
	}
	return fmt.Sprintf("%s error: %v", service, err)
}

// rootAndProfile returns the first root folder path and quality profile
// id, which new library items are added under.
func (c *arrClient) rootAndProfile(ctx context.Context) (string, int, error) {
	var roots []struct {
		Path string `json:"path"`
	}
	if err := c.get(ctx, "rootfolder", nil, &roots); err != nil {
		return "", 0, err
	}
	if len(roots) == 0 {
		return "", 0, fmt.Errorf("no root folder configured in %s", c.name)
	}
	var profiles []struct {
		ID int `json:"id"`
	}
	if err := c.get(ctx, "qualityprofile", nil, &profiles); err != nil {
		return "", 0, err
	}
	if len(profiles) == 0 {
		return "", 0, fmt.Errorf("no quality profile configured in %s", c.name)
	}
	return roots[0].Path, profiles[0].ID, nil
}

// historyRecord is an entry from /history, shared by Radarr and Sonarr.
type historyRecord struct {
	EventType string   `json:"eventType"`
	Date      string   `json:"date"`
	Quality   quality  `json:"quality"`
	Movie     *Movie   `json:"movie,omitempty"`
	Series    *Series  `json:"series,omitempty"`
	Episode   *Episode `json:"episode,omitempty"`
}

type quality struct {
	Quality struct {
		Name string `json:"name"`
	} `json:"quality"`
}

func (q quality) name() string {
	if q.Quality.Name == "" {
		return "Unknown"
	}
	return q.Quality.Name
}

func (h historyRecord) day() string {
	if len(h.Date) >= 10 {
		return h.Date[:10]
	}
	return h.Date
}

var eventDescriptions = map[string]string{
	"grabbed":                "Started downloading",
	"downloadFolderImported": "Downloaded",
	"downloadFailed":         "Failed",
}

func describeEvent(e string) string {
	if d, ok := eventDescriptions[e]; ok {
		return d
	}
	return e
}

// history returns the newest history records. include names the
// embedded objects to request (movie, series, episode).
func (c *arrClient) history(ctx context.Context, pageSize int, include ...string) ([]historyRecord, error) {
	params := url.Values{
		"pageSize":      {fmt.Sprint(pageSize)},
		"sortKey":       {"date"},
		"sortDirection": {"descending"},
	}
	for _, inc := range include {
		params.Set("include"+strings.ToUpper(inc[:1])+inc[1:], "true")
	}
	var page struct {
		Records []historyRecord `json:"records"`
	}
	if err := c.get(ctx, "history", params, &page); err != nil {
		return nil, err
	}
	return page.Records, nil
}
