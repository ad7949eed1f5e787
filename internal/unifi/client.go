// Package unifi answers home network questions from a UniFi Network
// controller, falling back to the Home Assistant UniFi integration's
// sensors when no controller API key is configured.
package unifi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

// Station is a connected client from the controller's stat/sta list.
type Station struct {
	MAC            string `json:"mac"`
	Hostname       string `json:"hostname"`
	Name           string `json:"name"`
	IP             string `json:"ip"`
	IsWired        bool   `json:"is_wired"`
	LastUplinkName string `json:"last_uplink_name"` // AP name
	Signal         int    `json:"signal"`           // RSSI in dBm
	LastSeen       int64  `json:"last_seen"`        // Unix timestamp
	RxBytes        int64  `json:"rx_bytes"`
	TxBytes        int64  `json:"tx_bytes"`
}

// DisplayName returns the alias, hostname or MAC, whichever is set first.
func (s Station) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Hostname != "":
		return s.Hostname
	}
	return s.MAC
}

// Subsystem is one entry of the controller's stat/health list. Only
// the fields used for network summaries are decoded.
type Subsystem struct {
	Subsystem string  `json:"subsystem"` // wan, www, lan, wlan, vpn
	Status    string  `json:"status"`
	WANIP     string  `json:"wan_ip"`
	NumUser   int     `json:"num_user"`
	Uptime    int64   `json:"uptime"`    // www: seconds since the WAN came up
	XputDown  float64 `json:"xput_down"` // www: last speed test, Mbps
	XputUp    float64 `json:"xput_up"`
	Latency   int     `json:"latency"`
}

// Client is a UniFi Network controller API client.
type Client struct {
	baseURL    string
	apiKey     string
	site       string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a UniFi API client. The URL should include the
// scheme and host (e.g., "https://192.168.1.1"). Authentication uses
// the X-API-KEY header. TLS verification is disabled because UniFi
// controllers typically use self-signed certificates.
func NewClient(baseURL, apiKey, site string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if site == "" {
		site = "default"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		site:    site,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(2, 2*time.Second),
			httpkit.WithTLSInsecureSkipVerify(),
			httpkit.WithLogger(logger),
		),
		logger: logger,
	}
}

func (c *Client) stat(ctx context.Context, name string, out any) error {
	path := fmt.Sprintf("/proxy/network/api/s/%s/stat/%s", c.site, name)
	envelope := struct {
		Data any `json:"data"`
	}{Data: out}
	if err := httpkit.GetJSON(ctx, c.httpClient, c.baseURL+path, map[string]string{"X-API-KEY": c.apiKey}, &envelope); err != nil {
		return fmt.Errorf("unifi %s: %w", name, err)
	}
	return nil
}

// Stations returns every connected client.
func (c *Client) Stations(ctx context.Context) ([]Station, error) {
	var stations []Station
	if err := c.stat(ctx, "sta", &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

// Health returns the per-subsystem health summary.
func (c *Client) Health(ctx context.Context) ([]Subsystem, error) {
	var subs []Subsystem
	if err := c.stat(ctx, "health", &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

// Ping checks if the UniFi controller is reachable by requesting the
// site health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

func findSubsystem(subs []Subsystem, name string) (Subsystem, bool) {
	for _, s := range subs {
		if s.Subsystem == name {
			return s, true
		}
	}
	return Subsystem{}, false
}
