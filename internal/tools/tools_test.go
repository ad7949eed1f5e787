package tools

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/jarvis/internal/llm"
)

func echoTool(name string, delay time.Duration) *Tool {
	return &Tool{
		Name:       name,
		Parameters: object(map[string]any{"text": prop("string", "text to echo")}),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(delay)
			s, _ := args["text"].(string)
			return name + " says " + s, nil
		},
	}
}

func TestRegistry_RegisterAndSpecs(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool("b_tool", 0))
	r.Register(echoTool("a_tool", 0))
	r.Register(&Tool{Name: "b_tool", Description: "replaced", Handler: echoTool("b_tool", 0).Handler})

	specs := r.Specs()
	if len(specs) != 2 {
		t.Fatalf("len(Specs()) = %d, want 2", len(specs))
	}
	if specs[0].Name != "b_tool" || specs[0].Description != "replaced" {
		t.Errorf("specs[0] = %+v, want replaced b_tool in registration order", specs[0])
	}
	if got := strings.Join(r.Names(), ","); got != "a_tool,b_tool" {
		t.Errorf("Names() = %q, want sorted", got)
	}
}

func TestDispatch_PreservesRequestOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool("slow", 30*time.Millisecond))
	r.Register(echoTool("fast", 0))

	calls := []llm.ToolCall{
		{Name: "slow", Args: map[string]any{"text": "one"}},
		{Name: "fast", Args: map[string]any{"text": "two"}},
		{Name: "slow", Args: map[string]any{"text": "three"}},
	}
	results := r.Dispatch(context.Background(), calls)

	want := []string{"slow says one", "fast says two", "slow says three"}
	for i, res := range results {
		if res.Output() != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, res.Output(), want[i])
		}
	}
}

func TestDispatch_RunsConcurrently(t *testing.T) {
	var running, peak atomic.Int32
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "wait", Handler: func(ctx context.Context, _ map[string]any) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return "ok", nil
	}})

	r.Dispatch(context.Background(), []llm.ToolCall{{Name: "wait"}, {Name: "wait"}, {Name: "wait"}})
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want calls to overlap", peak.Load())
	}
}

func TestDispatch_PartialFailure(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "get_ha_state", Handler: func(context.Context, map[string]any) (string, error) {
		return "The state of sensor.office_temp is 21 °C.", nil
	}})
	r.Register(&Tool{Name: "get_weather", Handler: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("connection refused")
	}})
	r.Register(&Tool{Name: "explode", Handler: func(context.Context, map[string]any) (string, error) {
		panic("nil map")
	}})

	results := r.Dispatch(context.Background(), []llm.ToolCall{
		{Name: "get_weather"},
		{Name: "get_ha_state"},
		{Name: "explode"},
	})

	if !results[0].Failed() || results[1].Failed() || !results[2].Failed() {
		t.Fatalf("Failed() = %v %v %v, want true false true", results[0].Failed(), results[1].Failed(), results[2].Failed())
	}

	combined := Combine(results)
	wantLines := []string{
		"get_weather: Error: connection refused",
		"get_ha_state: The state of sensor.office_temp is 21 °C.",
		"explode: Error: tool explode panicked: nil map",
	}
	if combined != strings.Join(wantLines, "\n") {
		t.Errorf("Combine() =\n%s\nwant\n%s", combined, strings.Join(wantLines, "\n"))
	}
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"name":    "  home_location ",
		"blank":   "   ",
		"seconds": float64(90),
		"count":   "12",
		"level":   float64(7.5),
	}

	if got, err := requireString(args, "name"); err != nil || got != "home_location" {
		t.Errorf("requireString(name) = %q, %v", got, err)
	}
	if _, err := requireString(args, "blank"); err == nil {
		t.Error("requireString(blank) should fail")
	}
	if got := optInt(args, "seconds", 0); got != 90 {
		t.Errorf("optInt(seconds) = %d, want 90", got)
	}
	if got := optInt(args, "count", 0); got != 12 {
		t.Errorf("optInt(count) = %d, want 12", got)
	}
	if got := optInt(args, "missing", 7); got != 7 {
		t.Errorf("optInt(missing) = %d, want 7", got)
	}
	if got := optString(args, "level", ""); got != "7.5" {
		t.Errorf("optString(level) = %q, want 7.5", got)
	}
}

func TestRegisterBuiltins_AdvertisesEveryTool(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{})

	want := []string{
		"add_calendar_event", "add_to_radarr", "add_to_sonarr", "analyze_camera",
		"cancel_timer", "check_vpn_status", "control_home_assistant", "create_location_reminder",
		"delete_preference", "get_appliance_status", "get_contextual_answer", "get_current_time",
		"get_ha_state", "get_last_interacted_entity", "get_person_location",
		"get_preference", "get_travel_time", "get_weather", "google_search",
		"list_all_preferences", "list_calendar_events", "list_timers", "play_music",
		"query_prowlarr", "query_qbittorrent", "query_radarr", "query_sonarr",
		"query_unifi_network", "recall_facts", "remember_fact", "save_preference",
		"search_ha_entities", "set_timer",
	}
	if got := strings.Join(r.Names(), ","); got != strings.Join(want, ",") {
		t.Errorf("Names() =\n%s\nwant\n%s", got, strings.Join(want, ","))
	}
	for _, tool := range r.List() {
		if tool.Description == "" || tool.Parameters["type"] != "object" {
			t.Errorf("%s: incomplete schema", tool.Name)
		}
	}
}

func TestBuiltins_NotConfigured(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{})
	ctx := context.Background()

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"control_home_assistant", map[string]any{"entity_id": "light.office", "command": "turn_on"}, haNotConfigured},
		{"get_ha_state", map[string]any{"entity_id": "sensor.x"}, haNotConfigured},
		{"get_person_location", map[string]any{"person_name": "Sam"}, haConnNotConfigured},
		{"get_appliance_status", map[string]any{"appliance_name": "dryer"}, haConnNotConfigured},
		{"create_location_reminder", map[string]any{"message": "milk"}, haConnNotConfigured},
		{"get_travel_time", map[string]any{"origin": "a", "destination": "b"}, "Error: Google Maps API key not configured. Add maps.api_key to the configuration."},
		{"list_calendar_events", nil, "Error: Calendar not configured."},
		{"query_unifi_network", map[string]any{"query_type": "wan_ip"}, "Error: UniFi controller and Home Assistant connection not configured."},
		{"save_preference", map[string]any{"name": "a", "value": "b"}, memoryUnavailable},
		{"get_last_interacted_entity", nil, "None"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := r.Execute(ctx, tt.tool, tt.args)
			if err != nil {
				t.Fatalf("Execute(%s) error = %v", tt.tool, err)
			}
			if got != tt.want {
				t.Errorf("Execute(%s) = %q, want %q", tt.tool, got, tt.want)
			}
		})
	}
}

func TestBuiltins_MissingArgument(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{})
	_, err := r.Execute(context.Background(), "get_ha_state", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "entity_id") {
		t.Errorf("Execute(get_ha_state, {}) error = %v, want missing entity_id", err)
	}
}
