package unifi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/jarvis/internal/homeassistant"
)

// StateReader is the slice of the device directory the sensor fallback
// needs.
type StateReader interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// Sensor entity ids the Home Assistant UniFi integration is commonly
// seen to create, tried in order.
var sensorPatterns = map[string][]string{
	"wan_ip":   {"sensor.unifi_gateway_wan_ip", "sensor.udm_wan_ip", "sensor.usg_wan_ip"},
	"devices":  {"sensor.unifi_network_clients", "sensor.unifi_devices", "sensor.udm_connected_clients"},
	"uptime":   {"sensor.unifi_gateway_uptime", "sensor.udm_uptime", "sensor.usg_uptime"},
	"download": {"sensor.unifi_network_wan_download", "sensor.udm_wan_download"},
	"upload":   {"sensor.unifi_network_wan_upload", "sensor.udm_wan_upload"},
}

// Network renders network summaries. Controller may be nil, in which
// case answers come from Home Assistant sensors.
type Network struct {
	Controller *Client
	States     StateReader
	// WANSensor is tried before the built-in wan_ip patterns.
	WANSensor string
	Logger    *slog.Logger
}

// Query answers one of wan_ip, devices, uptime, bandwidth or stats.
func (n *Network) Query(ctx context.Context, queryType string) string {
	switch queryType {
	case "wan_ip", "devices", "uptime", "bandwidth", "stats":
	default:
		return fmt.Sprintf("Unknown query type: %s. Supported: wan_ip, devices, bandwidth, uptime, stats", queryType)
	}

	if n.Controller != nil {
		out, err := n.controllerQuery(ctx, queryType)
		if err == nil {
			return out
		}
		n.logger().Warn("unifi controller query failed, trying sensors", "query", queryType, "error", err)
	}
	if n.States == nil {
		return "Error: UniFi controller and Home Assistant connection not configured."
	}
	return n.sensorQuery(ctx, queryType)
}

// WANIP returns the current WAN address, or "" when unknown.
func (n *Network) WANIP(ctx context.Context) string {
	if n.Controller != nil {
		if subs, err := n.Controller.Health(ctx); err == nil {
			if wan, ok := findSubsystem(subs, "wan"); ok && wan.WANIP != "" {
				return wan.WANIP
			}
		}
	}
	if n.States == nil {
		return ""
	}
	state := n.sensor(ctx, n.wanPatterns())
	if state == nil {
		return ""
	}
	return state.State
}

func (n *Network) controllerQuery(ctx context.Context, queryType string) (string, error) {
	subs, err := n.Controller.Health(ctx)
	if err != nil {
		return "", err
	}
	wan, _ := findSubsystem(subs, "wan")
	www, _ := findSubsystem(subs, "www")

	switch queryType {
	case "wan_ip":
		if wan.WANIP == "" {
			return "The UniFi controller did not report a WAN IP.", nil
		}
		return "Your WAN IP is " + wan.WANIP, nil

	case "devices":
		stations, err := n.Controller.Stations(ctx)
		if err != nil {
			return "", err
		}
		var wired int
		for _, s := range stations {
			if s.IsWired {
				wired++
			}
		}
		return fmt.Sprintf("There are %d devices connected to your network (%d wired, %d wireless).",
			len(stations), wired, len(stations)-wired), nil

	case "uptime":
		return "Gateway uptime: " + longUptime(float64(www.Uptime)), nil

	case "bandwidth":
		if www.XputDown == 0 && www.XputUp == 0 {
			return "Could not find UniFi bandwidth figures.", nil
		}
		return fmt.Sprintf("Current bandwidth: ↓ %.1f Mbps, ↑ %.1f Mbps", www.XputDown, www.XputUp), nil
	}

	var lines []string
	if wan.WANIP != "" {
		lines = append(lines, "WAN IP: "+wan.WANIP)
	}
	users := 0
	for _, name := range []string{"lan", "wlan"} {
		if s, ok := findSubsystem(subs, name); ok {
			users += s.NumUser
		}
	}
	lines = append(lines, fmt.Sprintf("Connected devices: %d", users))
	if www.Uptime > 0 {
		lines = append(lines, "Uptime: "+shortUptime(float64(www.Uptime)))
	}
	if www.Latency > 0 {
		lines = append(lines, fmt.Sprintf("Latency: %d ms", www.Latency))
	}
	return "UniFi Network Stats:\n- " + strings.Join(lines, "\n- "), nil
}

func (n *Network) sensorQuery(ctx context.Context, queryType string) string {
	switch queryType {
	case "wan_ip":
		if st := n.sensor(ctx, n.wanPatterns()); st != nil {
			return "Your WAN IP is " + st.State
		}
		return "Could not find UniFi WAN IP sensor. Make sure the UniFi integration is set up."

	case "devices":
		if st := n.sensor(ctx, sensorPatterns["devices"]); st != nil {
			return fmt.Sprintf("There are %s devices connected to your network.", st.State)
		}
		return "Could not find UniFi device count sensor."

	case "uptime":
		st := n.sensor(ctx, sensorPatterns["uptime"])
		if st == nil {
			return "Could not find UniFi uptime sensor."
		}
		if secs, err := strconv.ParseFloat(st.State, 64); err == nil {
			return "Gateway uptime: " + longUptime(secs)
		}
		return strings.TrimSpace(fmt.Sprintf("Gateway uptime: %s %s", st.State, st.Unit()))

	case "bandwidth":
		down := n.sensor(ctx, sensorPatterns["download"])
		up := n.sensor(ctx, sensorPatterns["upload"])
		var parts []string
		if down != nil {
			parts = append(parts, strings.TrimSpace(fmt.Sprintf("↓ %s %s", down.State, down.Unit())))
		}
		if up != nil {
			parts = append(parts, strings.TrimSpace(fmt.Sprintf("↑ %s %s", up.State, up.Unit())))
		}
		if len(parts) == 0 {
			return "Could not find UniFi bandwidth sensors."
		}
		return "Current bandwidth: " + strings.Join(parts, ", ")
	}

	var lines []string
	if st := n.sensor(ctx, n.wanPatterns()); st != nil {
		lines = append(lines, "WAN IP: "+st.State)
	}
	if st := n.sensor(ctx, sensorPatterns["devices"]); st != nil {
		lines = append(lines, "Connected devices: "+st.State)
	}
	if st := n.sensor(ctx, sensorPatterns["uptime"]); st != nil {
		if secs, err := strconv.ParseFloat(st.State, 64); err == nil {
			lines = append(lines, "Uptime: "+shortUptime(secs))
		} else {
			lines = append(lines, "Uptime: "+st.State)
		}
	}
	if len(lines) == 0 {
		return "Could not retrieve UniFi network stats. Check that the UniFi integration is configured."
	}
	return "UniFi Network Stats:\n- " + strings.Join(lines, "\n- ")
}

func (n *Network) wanPatterns() []string {
	if n.WANSensor == "" {
		return sensorPatterns["wan_ip"]
	}
	return append([]string{n.WANSensor}, sensorPatterns["wan_ip"]...)
}

// sensor returns the first pattern with a usable state. Lookup errors
// are treated as a missing sensor.
func (n *Network) sensor(ctx context.Context, patterns []string) *homeassistant.State {
	for _, id := range patterns {
		st, err := n.States.GetState(ctx, id)
		if err != nil {
			continue
		}
		if st.State == "" || st.State == "unavailable" || st.State == "unknown" {
			continue
		}
		return st
	}
	return nil
}

func (n *Network) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

func longUptime(secs float64) string {
	s := int64(secs)
	return fmt.Sprintf("%d days, %d hours, %d minutes", s/86400, s%86400/3600, s%3600/60)
}

func shortUptime(secs float64) string {
	s := int64(secs)
	return fmt.Sprintf("%dd %dh", s/86400, s%86400/3600)
}
