// Package homeassistant is the device directory: a Home Assistant REST
// API client that looks up entities, lists them, and invokes services.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// ErrNotFound is returned by GetState when the entity does not exist.
var ErrNotFound = errors.New("entity not found")

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Home Assistant client. Each request is bounded
// by a 10 second timeout and retried on dial failures.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10*time.Second),
			httpkit.WithRetry(2, time.Second),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

// State is an entity state.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// FriendlyName returns the friendly_name attribute, or "".
func (s State) FriendlyName() string {
	name, _ := s.Attributes["friendly_name"].(string)
	return name
}

// Unit returns the unit_of_measurement attribute, or "".
func (s State) Unit() string {
	unit, _ := s.Attributes["unit_of_measurement"].(string)
	return unit
}

// Entity is a directory listing entry.
type Entity struct {
	ID         string
	Name       string
	Domain     string
	State      string
	Attributes map[string]any
}

// Domain returns the part of an entity ID before the first dot.
func Domain(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}

// ObjectID returns the part of an entity ID after the first dot.
func ObjectID(entityID string) string {
	if _, obj, ok := strings.Cut(entityID, "."); ok {
		return obj
	}
	return entityID
}

// Ping checks that the API is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	if err := c.get(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetState fetches a single entity. A 404 is reported as ErrNotFound.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var state State
	err := c.get(ctx, "/api/states/"+entityID, &state)
	var se *httpkit.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", entityID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// GetStates fetches every entity state.
func (c *Client) GetStates(ctx context.Context) ([]State, error) {
	var states []State
	if err := c.get(ctx, "/api/states", &states); err != nil {
		return nil, err
	}
	return states, nil
}

// Entities lists the directory in Home Assistant's order.
func (c *Client) Entities(ctx context.Context) ([]Entity, error) {
	states, err := c.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}
	entities := make([]Entity, 0, len(states))
	for _, s := range states {
		entities = append(entities, Entity{
			ID:         s.EntityID,
			Name:       s.FriendlyName(),
			Domain:     Domain(s.EntityID),
			State:      s.State,
			Attributes: s.Attributes,
		})
	}
	return entities, nil
}

// CallService invokes domain.service with data. A nil data map is sent
// as an empty object. Non-2xx responses are returned as
// *httpkit.StatusError carrying the status and body.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal service data: %w", err)
	}
	path := fmt.Sprintf("/api/services/%s/%s", domain, service)
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.logger.Debug("calling service", "domain", domain, "service", service, "data", data)
	return httpkit.DoJSON(c.httpClient, req, nil)
}

// CreateAutomation stores an automation under id through the config
// API. Home Assistant loads it immediately as automation.<id>.
func (c *Client) CreateAutomation(ctx context.Context, id string, config map[string]any) error {
	body, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal automation: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/config/automation/config/"+id, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.logger.Debug("creating automation", "id", id)
	if err := httpkit.DoJSON(c.httpClient, req, nil); err != nil {
		return fmt.Errorf("create automation %s: %w", id, err)
	}
	return nil
}

// CameraSnapshot returns the current still image of a camera entity.
func (c *Client) CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/camera_proxy/"+entityID, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("camera %s: %w", entityID, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, "", &httpkit.StatusError{
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}
	img, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot: %w", err)
	}
	return img, resp.Header.Get("Content-Type"), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return httpkit.DoJSON(c.httpClient, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
