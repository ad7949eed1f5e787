// Package travel queries the Google Distance Matrix API for travel time
// between two places under current traffic.
package travel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

const defaultEndpoint = "https://maps.googleapis.com/maps/api/distancematrix/json"

// RouteError reports a route the API could not compute. Its message
// begins "Route not found" so callers can relay it verbatim.
type RouteError struct {
	Status string
}

func (e *RouteError) Error() string {
	return "Route not found: " + e.Status
}

// Client is a Distance Matrix client.
type Client struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client with the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c != nil && c.apiKey != "" }

// Route is a single origin→destination estimate.
type Route struct {
	Origin      string
	Destination string
	Mode        string
	Distance    string
	Duration    string
	// InTraffic is empty when the API returned no traffic estimate.
	InTraffic string
}

// String renders the route for the model.
func (r Route) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Travel from %s to %s (%s):\n", r.Origin, r.Destination, r.Mode)
	fmt.Fprintf(&sb, "Distance: %s\n", r.Distance)
	if r.InTraffic != "" {
		fmt.Fprintf(&sb, "Normal time: %s\nCurrent traffic: %s", r.Duration, r.InTraffic)
	} else {
		fmt.Fprintf(&sb, "Estimated time: %s", r.Duration)
	}
	return sb.String()
}

type matrixResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Rows         []struct {
		Elements []struct {
			Status            string     `json:"status"`
			Distance          textValue  `json:"distance"`
			Duration          textValue  `json:"duration"`
			DurationInTraffic *textValue `json:"duration_in_traffic"`
		} `json:"elements"`
	} `json:"rows"`
}

type textValue struct {
	Text string `json:"text"`
}

// Route estimates travel between origin and destination. Mode is one
// of driving, walking, bicycling or transit; empty means driving.
func (c *Client) Route(ctx context.Context, origin, destination, mode string) (*Route, error) {
	if mode == "" {
		mode = "driving"
	}
	params := url.Values{
		"origins":        {origin},
		"destinations":   {destination},
		"mode":           {mode},
		"departure_time": {"now"},
		"key":            {c.apiKey},
	}

	var mr matrixResponse
	if err := httpkit.GetJSON(ctx, c.httpClient, c.endpoint+"?"+params.Encode(), nil, &mr); err != nil {
		return nil, fmt.Errorf("distance matrix: %w", err)
	}
	if mr.Status != "OK" {
		msg := mr.ErrorMessage
		if msg == "" {
			msg = mr.Status
		}
		return nil, fmt.Errorf("maps API error: %s", msg)
	}
	if len(mr.Rows) == 0 || len(mr.Rows[0].Elements) == 0 {
		return nil, &RouteError{Status: "NO_ELEMENTS"}
	}

	el := mr.Rows[0].Elements[0]
	if el.Status != "OK" {
		return nil, &RouteError{Status: el.Status}
	}

	r := &Route{
		Origin:      origin,
		Destination: destination,
		Mode:        mode,
		Distance:    el.Distance.Text,
		Duration:    el.Duration.Text,
	}
	if el.DurationInTraffic != nil {
		r.InTraffic = el.DurationInTraffic.Text
	}
	return r, nil
}
