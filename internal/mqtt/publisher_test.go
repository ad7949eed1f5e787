package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nugget/jarvis/internal/config"
)

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q does not look like a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, instanceFile))
	if err != nil || strings.TrimSpace(string(data)) != first {
		t.Errorf("file content = %q, %v; want %q", data, err, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil || second != first {
		t.Errorf("second call = %q, %v; want stable %q", second, err, first)
	}
}

type fakeStats struct{}

func (fakeStats) Uptime() time.Duration { return 90*time.Minute + 500*time.Millisecond }
func (fakeStats) Version() string { return "1.4.0" }
func (fakeStats) Model() string { return "qwen3:8b" }
func (fakeStats) ActiveSessions() int { return 2 }
func (fakeStats) LastRequestTime() time.Time { return time.Time{} }
func (fakeStats) MemoryCounts() (int, int) { return 4, 17 }

func testPublisher() *Publisher {
	cfg := config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "jarvis-office",
		DiscoveryPrefix: "homeassistant",
	}
	return New(cfg, "instance-123", NewDailyTokens(time.UTC), fakeStats{}, nil)
}

func TestPublisher_TopicPaths(t *testing.T) {
	p := testPublisher()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"availability", p.availabilityTopic(), "jarvis/jarvis-office/availability"},
		{"state", p.stateTopic("uptime"), "jarvis/jarvis-office/uptime/state"},
		{"event", p.eventTopic(), "jarvis/jarvis-office/timer/event"},
		{"ask", p.askTopic(), "jarvis/jarvis-office/ask"},
		{"reply", p.replyTopic(), "jarvis/jarvis-office/reply"},
		{"discovery", p.discoveryTopic("sensor", "uptime"), "homeassistant/sensor/jarvis-office/uptime/config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestPublisher_EntityDefinitions(t *testing.T) {
	p := testPublisher()
	defs := p.entityDefinitions()

	states := p.stateValues()
	for _, d := range defs {
		if d.config.ObjectID != d.suffix || !d.config.HasEntityName {
			t.Errorf("%s: ObjectID = %q, HasEntityName = %v", d.suffix, d.config.ObjectID, d.config.HasEntityName)
		}
		if strings.Contains(d.config.Name, "jarvis-office") {
			t.Errorf("%s: Name %q repeats the device name", d.suffix, d.config.Name)
		}
		if d.config.UniqueID != "instance-123_"+d.suffix {
			t.Errorf("%s: UniqueID = %q", d.suffix, d.config.UniqueID)
		}
		switch d.component {
		case "sensor":
			if _, ok := states[d.suffix]; !ok {
				t.Errorf("sensor %s has no state value", d.suffix)
			}
		case "event":
			if len(d.config.EventTypes) != 1 || d.config.EventTypes[0] != EventTimerFinished {
				t.Errorf("event types = %v", d.config.EventTypes)
			}
		default:
			t.Errorf("%s: unexpected component %q", d.suffix, d.component)
		}
	}
	if len(states) != len(defs)-1 {
		t.Errorf("%d states for %d sensors", len(states), len(defs)-1)
	}
}

func TestPublisher_StateValues(t *testing.T) {
	p := testPublisher()
	p.tokens.OnTokens(120, 30)

	states := p.stateValues()
	want := map[string]string{
		"uptime":          "5400",
		"version":         "1.4.0",
		"model":           "qwen3:8b",
		"active_sessions": "2",
		"last_request":    "unknown",
		"preferences":     "4",
		"context_entries": "17",
		"tokens_today":    "150",
	}
	for k, v := range want {
		if states[k] != v {
			t.Errorf("state %s = %q, want %q", k, states[k], v)
		}
	}
}

func TestEventPayload(t *testing.T) {
	data, err := eventPayload(EventTimerFinished, map[string]any{"label": "pasta", "event_type": "ignored"})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	json.Unmarshal(data, &got)
	if got["event_type"] != EventTimerFinished || got["label"] != "pasta" {
		t.Errorf("payload = %s", data)
	}
}

func TestPublisher_NotStarted(t *testing.T) {
	p := testPublisher()
	ctx := context.Background()

	if err := p.PublishStates(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishStates() error = %v, want ErrNotConnected", err)
	}
	if err := p.PublishEvent(ctx, EventTimerFinished, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishEvent() error = %v, want ErrNotConnected", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop() before Start = %v", err)
	}
}

func TestEntityConfig_OmitsEmpty(t *testing.T) {
	data, err := json.Marshal(EntityConfig{Name: "Uptime", UniqueID: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "event_types") || strings.Contains(string(data), "device_class") {
		t.Errorf("empty optional fields serialized: %s", data)
	}
}
