package tools

import (
	"strings"
	"testing"

	"github.com/nugget/jarvis/internal/travel"
)

func memoryRegistry(t *testing.T, prefs map[string]string) (*Registry, *builtins) {
	t.Helper()
	mem := testMemory(t)
	for k, v := range prefs {
		if err := mem.SetPreference(k, v); err != nil {
			t.Fatalf("SetPreference(%s): %v", k, err)
		}
	}
	r := NewRegistry(nil)
	d := Deps{Memory: mem, Travel: travel.NewClient("test-key")}
	RegisterBuiltins(r, d)
	return r, &builtins{Deps: d, logger: r.logger}
}

func TestPreferences_SaveGetList(t *testing.T) {
	r, _ := memoryRegistry(t, nil)

	if got := execTool(t, r, "list_all_preferences", nil); got != "No preferences saved yet" {
		t.Errorf("empty list = %q", got)
	}
	if got := execTool(t, r, "save_preference", map[string]any{"name": "home_location", "value": "Austin, TX"}); got != "Preference saved: home_location = Austin, TX" {
		t.Errorf("save = %q", got)
	}
	if got := execTool(t, r, "get_preference", map[string]any{"name": "home_location"}); got != "home_location: Austin, TX" {
		t.Errorf("get = %q", got)
	}
	if got := execTool(t, r, "get_preference", map[string]any{"name": "shoe_size"}); got != "No preference found for 'shoe_size'" {
		t.Errorf("get missing = %q", got)
	}
	got := execTool(t, r, "list_all_preferences", nil)
	if !strings.HasPrefix(got, "Saved preferences:\n") || !strings.Contains(got, "- home_location: Austin, TX") {
		t.Errorf("list = %q", got)
	}
}

func TestDeletePreference(t *testing.T) {
	seed := map[string]string{
		"favorite_color":  "green",
		"gym_location":    "Downtown YMCA",
		"work_location":   "1 Main St",
		"spouse_name":     "Sam",
		"spouse_birthday": "June 3",
	}
	tests := []struct {
		name    string
		request string
		want    string
		gone    string
	}{
		{
			name:    "exact key",
			request: "favorite_color",
			want:    "Successfully deleted preference: favorite_color",
			gone:    "favorite_color",
		},
		{
			name:    "partial key",
			request: "gym",
			want:    "Successfully deleted preference: gym_location",
			gone:    "gym_location",
		},
		{
			name:    "ambiguous",
			request: "spouse",
			want:    "Multiple preferences match 'spouse':\n  - spouse_birthday\n  - spouse_name\n\nPlease be more specific.",
		},
		{
			name:    "no match",
			request: "shoe_size",
			want:    "No preference found matching 'shoe_size'. Use 'list all preferences' to see exact names.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, b := memoryRegistry(t, seed)
			got := execTool(t, r, "delete_preference", map[string]any{"name": tt.request})
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if tt.gone != "" {
				if _, ok, _ := b.Memory.Preference(tt.gone); ok {
					t.Errorf("%s still present after delete", tt.gone)
				}
			}
			prefs, err := b.Memory.Preferences()
			if err != nil {
				t.Fatal(err)
			}
			wantLeft := len(seed)
			if tt.gone != "" {
				wantLeft--
			}
			if len(prefs) != wantLeft {
				t.Errorf("%d preferences left, want %d", len(prefs), wantLeft)
			}
		})
	}
}

func TestFacts(t *testing.T) {
	r, _ := memoryRegistry(t, nil)

	if got := execTool(t, r, "recall_facts", map[string]any{"entity_id": "sensor.fish_tank_temp"}); got != "No facts remembered for sensor.fish_tank_temp" {
		t.Errorf("empty recall = %q", got)
	}
	execTool(t, r, "remember_fact", map[string]any{"entity_id": "sensor.fish_tank_temp", "key": "ideal_range", "value": "24-26°C"})
	execTool(t, r, "remember_fact", map[string]any{"entity_id": "sensor.fish_tank_temp", "key": "species", "value": "neon tetra"})

	got := execTool(t, r, "recall_facts", map[string]any{"entity_id": "sensor.fish_tank_temp"})
	want := "Facts about sensor.fish_tank_temp:\n- ideal_range: 24-26°C\n- species: neon tetra"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolvePlace(t *testing.T) {
	_, b := memoryRegistry(t, map[string]string{
		"home_location": "12 Elm St",
		"work":          "1 Main St",
		"address_gym":   "Downtown YMCA",
	})
	tests := []struct {
		place, want string
	}{
		{"home", "12 Elm St"},
		{"Work", "1 Main St"},
		{"gym", "Downtown YMCA"},
		{"Central Park", "Central Park"},
	}
	for _, tt := range tests {
		if got := b.resolvePlace(tt.place); got != tt.want {
			t.Errorf("resolvePlace(%q) = %q, want %q", tt.place, got, tt.want)
		}
	}
}

func TestTravel_HomeNotSaved(t *testing.T) {
	r, _ := memoryRegistry(t, nil)

	got := execTool(t, r, "get_travel_time", map[string]any{"origin": "home", "destination": "airport"})
	if !strings.HasPrefix(got, "I don't have your home location saved yet, Sir. Please tell me where you live") {
		t.Errorf("origin home = %q", got)
	}
	got = execTool(t, r, "get_travel_time", map[string]any{"origin": "airport", "destination": "Home"})
	if got != "I don't have your home location saved yet, Sir." {
		t.Errorf("destination home = %q", got)
	}
}
