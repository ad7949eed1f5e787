package unifi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nugget/jarvis/internal/homeassistant"
)

func fakeController(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-KEY"); got != "test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, "invalid api key")
			return
		}
		switch r.URL.Path {
		case "/proxy/network/api/s/home/stat/health":
			io.WriteString(w, `{"data":[
				{"subsystem":"wan","status":"ok","wan_ip":"203.0.113.7"},
				{"subsystem":"www","status":"ok","uptime":190800,"xput_down":912.4,"xput_up":48.2,"latency":11},
				{"subsystem":"lan","num_user":14},
				{"subsystem":"wlan","num_user":23}
			]}`)
		case "/proxy/network/api/s/home/stat/sta":
			io.WriteString(w, `{"data":[
				{"mac":"aa:bb:cc:dd:ee:ff","hostname":"iphone","is_wired":false},
				{"mac":"11:22:33:44:55:66","name":"NAS","is_wired":true},
				{"mac":"22:33:44:55:66:77","is_wired":false}
			]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// The controller's self-signed certificate is accepted.
func TestClient_Stations(t *testing.T) {
	srv := fakeController(t)
	c := NewClient(srv.URL, "test-key", "home", nil)

	stations, err := c.Stations(context.Background())
	if err != nil {
		t.Fatalf("Stations: %v", err)
	}
	if len(stations) != 3 {
		t.Fatalf("len = %d, want 3", len(stations))
	}
	names := []string{stations[0].DisplayName(), stations[1].DisplayName(), stations[2].DisplayName()}
	if fmt.Sprint(names) != "[iphone NAS 22:33:44:55:66:77]" {
		t.Errorf("names = %v", names)
	}
}

func TestClient_APIError(t *testing.T) {
	srv := fakeController(t)
	c := NewClient(srv.URL, "bad-key", "home", nil)

	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestNetwork_Controller(t *testing.T) {
	srv := fakeController(t)
	n := &Network{Controller: NewClient(srv.URL, "test-key", "home", nil)}
	ctx := context.Background()

	tests := []struct {
		query string
		want  string
	}{
		{"wan_ip", "Your WAN IP is 203.0.113.7"},
		{"devices", "There are 3 devices connected to your network (1 wired, 2 wireless)."},
		{"uptime", "Gateway uptime: 2 days, 5 hours, 0 minutes"},
		{"bandwidth", "Current bandwidth: ↓ 912.4 Mbps, ↑ 48.2 Mbps"},
		{"stats", "UniFi Network Stats:\n- WAN IP: 203.0.113.7\n- Connected devices: 37\n- Uptime: 2d 5h\n- Latency: 11 ms"},
		{"firewall", "Unknown query type: firewall. Supported: wan_ip, devices, bandwidth, uptime, stats"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := n.Query(ctx, tt.query); got != tt.want {
				t.Errorf("Query(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

type fakeStates map[string]homeassistant.State

func (f fakeStates) GetState(_ context.Context, id string) (*homeassistant.State, error) {
	st, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, homeassistant.ErrNotFound)
	}
	return &st, nil
}

func TestNetwork_SensorFallback(t *testing.T) {
	states := fakeStates{
		"sensor.udm_wan_ip":            {State: "198.51.100.4"},
		"sensor.unifi_gateway_wan_ip":  {State: "unavailable"},
		"sensor.unifi_network_clients": {State: "42"},
		"sensor.udm_uptime":            {State: "93784"},
		"sensor.udm_wan_download": {State: "250", Attributes: map[string]any{
			"unit_of_measurement": "Mbit/s",
		}},
	}
	n := &Network{States: states}
	ctx := context.Background()

	tests := []struct {
		query string
		want  string
	}{
		{"wan_ip", "Your WAN IP is 198.51.100.4"},
		{"devices", "There are 42 devices connected to your network."},
		{"uptime", "Gateway uptime: 1 days, 2 hours, 3 minutes"},
		{"bandwidth", "Current bandwidth: ↓ 250 Mbit/s"},
		{"stats", "UniFi Network Stats:\n- WAN IP: 198.51.100.4\n- Connected devices: 42\n- Uptime: 1d 2h"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := n.Query(ctx, tt.query); got != tt.want {
				t.Errorf("Query(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestNetwork_ControllerDownUsesSensors(t *testing.T) {
	srv := fakeController(t)
	n := &Network{
		Controller: NewClient(srv.URL, "wrong", "home", nil),
		States:     fakeStates{"sensor.router_wan": {State: "192.0.2.1"}},
		WANSensor:  "sensor.router_wan",
	}
	if got := n.Query(context.Background(), "wan_ip"); got != "Your WAN IP is 192.0.2.1" {
		t.Errorf("Query(wan_ip) = %q", got)
	}
	if got := n.WANIP(context.Background()); got != "192.0.2.1" {
		t.Errorf("WANIP() = %q", got)
	}
}

func TestNetwork_NothingConfigured(t *testing.T) {
	n := &Network{}
	if got := n.Query(context.Background(), "stats"); !strings.HasPrefix(got, "Error:") {
		t.Errorf("Query() = %q, want an Error: string", got)
	}
}
