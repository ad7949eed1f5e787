package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nugget/jarvis/internal/resolve"
	"github.com/nugget/jarvis/internal/scheduler"
	"github.com/nugget/jarvis/internal/search"
)

type stubProvider struct {
	results []search.Result
	err     error
	queries []string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Search(_ context.Context, query string, _ search.Options) ([]search.Result, error) {
	p.queries = append(p.queries, query)
	return p.results, p.err
}

func TestCurrentTime(t *testing.T) {
	loc, err := time.LoadLocation("America/Chicago")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{
		Location: loc,
		Now:      func() time.Time { return time.Date(2026, 3, 2, 20, 5, 0, 0, time.UTC) },
	})

	got := execTool(t, r, "get_current_time", nil)
	want := "Current date and time: Monday, March 02, 2026 at 02:05 PM (UTC: 2026-03-02 20:05:00 UTC)"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestWebSearch(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		want     string
	}{
		{
			name:     "results",
			provider: &stubProvider{results: []search.Result{{Title: "Neon tetra care", Snippet: "Keep at 24-26C."}}},
			want:     "Top Search Results:\n- Neon tetra care: Keep at 24-26C.",
		},
		{
			name:     "no results",
			provider: &stubProvider{},
			want:     "No results found for 'neon tetra'.",
		},
		{
			name:     "quota",
			provider: &stubProvider{err: fmt.Errorf("daily limit: %w", search.ErrQuotaExceeded)},
			want:     "Search quota exceeded. Google Custom Search free tier is limited to 100 queries/day.",
		},
		{
			name:     "failure",
			provider: &stubProvider{err: errors.New("timeout")},
			want:     "Search failed: stub: timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := search.NewManager(nil)
			m.Register(tt.provider)
			r := NewRegistry(nil)
			RegisterBuiltins(r, Deps{Search: m})

			if got := execTool(t, r, "google_search", map[string]any{"query": "neon tetra"}); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextualAnswer(t *testing.T) {
	ha := newFakeHA()
	ha.states = append(ha.states, haState("sensor.fish_tank_temp", "25.5", "Fish Tank", "°C"))
	p := &stubProvider{results: []search.Result{{Title: "Tropical fish", Snippet: "24-27C is ideal."}}}
	m := search.NewManager(nil)
	m.Register(p)

	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{HA: ha, Resolver: resolve.New(ha, resolve.DefaultPolicy(), nil), Search: m})

	got := execTool(t, r, "get_contextual_answer", map[string]any{
		"entity_id": "sensor.fish_tank_temp",
		"question":  "ideal tropical fish tank temperature",
	})
	want := "Current State: The state of sensor.fish_tank_temp is 25.5 °C.\n\n" +
		"Context from Web:\nTop Search Results:\n- Tropical fish: 24-27C is ideal.\n\n" +
		"Please synthesize this information for the user."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if len(p.queries) != 1 || p.queries[0] != "ideal tropical fish tank temperature" {
		t.Errorf("queries = %v", p.queries)
	}
}

func TestTimers(t *testing.T) {
	s := scheduler.New(nil, nil)
	t.Cleanup(s.Stop)
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{Timers: s})

	if got := execTool(t, r, "list_timers", nil); got != "No timers running." {
		t.Errorf("empty list = %q", got)
	}
	if got := execTool(t, r, "set_timer", map[string]any{"seconds": float64(300), "label": "pasta"}); got != "Timer 'pasta' set for 300 seconds." {
		t.Errorf("set pasta = %q", got)
	}
	if got := execTool(t, r, "set_timer", map[string]any{"seconds": "600"}); got != "Timer set for 600 seconds." {
		t.Errorf("set unlabeled = %q", got)
	}

	got := execTool(t, r, "list_timers", nil)
	if !strings.HasPrefix(got, "Running timers (2):\n- pasta timer (5m0s): ") {
		t.Errorf("list = %q", got)
	}

	if got := execTool(t, r, "cancel_timer", nil); got != "2 timers are running. Which one should I cancel?" {
		t.Errorf("ambiguous cancel = %q", got)
	}
	if got := execTool(t, r, "cancel_timer", map[string]any{"label": "eggs"}); got != "No running timer named 'eggs'." {
		t.Errorf("unknown cancel = %q", got)
	}
	if got := execTool(t, r, "cancel_timer", map[string]any{"label": "Pasta"}); got != "Cancelled the pasta timer (5m0s)." {
		t.Errorf("cancel pasta = %q", got)
	}
	if got := execTool(t, r, "cancel_timer", nil); got != "Cancelled the timer (10m0s)." {
		t.Errorf("cancel only = %q", got)
	}
	if n := len(s.Timers()); n != 0 {
		t.Errorf("%d timers left, want 0", n)
	}
}

func TestSetTimer_RejectsNonPositive(t *testing.T) {
	r := NewRegistry(nil)
	RegisterBuiltins(r, Deps{Timers: scheduler.New(nil, nil)})

	if _, err := r.Execute(context.Background(), "set_timer", map[string]any{"seconds": float64(0)}); err == nil {
		t.Error("expected error for zero seconds")
	}
}
