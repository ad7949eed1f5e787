package mqtt

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestAskText(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"turn on the office lamp", "turn on the office lamp"},
		{`{"text":"  what's the weather  "}`, "what's the weather"},
		{`{"other":1}`, `{"other":1}`},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := askText([]byte(tt.payload)); got != tt.want {
			t.Errorf("askText(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}

func TestMessageRateLimiter(t *testing.T) {
	rl := newMessageRateLimiter(5, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for i := range 5 {
		if !rl.allow() {
			t.Errorf("message %d should have been allowed", i)
		}
	}
	if rl.allow() {
		t.Error("message 6 should have been rate-limited")
	}
	if dropped := rl.dropped.Load(); dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
}

func TestMessageRateLimiter_Concurrent(t *testing.T) {
	rl := newMessageRateLimiter(1000, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	for range 10 {
		go func() {
			for range 200 {
				rl.allow()
			}
			done <- struct{}{}
		}()
	}
	for range 10 {
		<-done
	}
	if count := rl.count.Load(); count != 2000 {
		t.Errorf("count = %d, want 2000", count)
	}
	if dropped := rl.dropped.Load(); dropped != 1000 {
		t.Errorf("dropped = %d, want 1000", dropped)
	}
}
