package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantCount int
		wantName  string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text no JSON", content: "The lights are on, Sir.", wantCount: 0},
		{
			name:      "single tool call object",
			content:   `{"name": "get_ha_state", "arguments": {"entity_id": "sun.sun"}}`,
			wantCount: 1,
			wantName:  "get_ha_state",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "get_ha_state", "arguments": {"entity_id": "sun.sun"}}, {"name": "get_current_time", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "get_ha_state",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "control_home_assistant", "arguments": {"entity_id": "light.office", "command": "on"}}</tool_call>`,
			wantCount: 1,
			wantName:  "control_home_assistant",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "get_weather", "arguments": {"city": "Leeds"}}`,
			wantCount: 1,
			wantName:  "get_weather",
		},
		{
			name:      "tagged with preamble",
			content:   `Checking now. <tool_call>{"name": "get_weather", "arguments": {}}</tool_call>`,
			wantCount: 1,
			wantName:  "get_weather",
		},
		{name: "malformed JSON", content: `{"name": "get_weather", "arguments": {`, wantCount: 0},
		{name: "object without name", content: `{"city": "Leeds"}`, wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Name != tt.wantName {
				t.Errorf("first call = %q, want %q", got[0].Name, tt.wantName)
			}
		})
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var seen ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&seen)
		io.WriteString(w, `{
			"model": "qwen3:8b",
			"done": true,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [
					{"function": {"name": "get_ha_state", "arguments": {"entity_id": "sensor.office_temp"}}},
					{"function": {"name": "get_weather", "arguments": {}}}
				]
			},
			"prompt_eval_count": 120,
			"eval_count": 8
		}`)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 5*time.Second, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "qwen3:8b",
		System:   "You are JARVIS.",
		Messages: []Message{{Role: RoleUser, Content: "how warm is the office"}},
		Tools:    []ToolSpec{{Name: "get_ha_state", Description: "state"}},
		Sampling: Sampling{Temperature: 0.7, MaxTokens: 256},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(seen.Messages) != 2 || seen.Messages[0].Role != RoleSystem {
		t.Errorf("wire messages = %+v, want system then user", seen.Messages)
	}
	if seen.Options == nil || seen.Options.NumPredict != 256 || seen.Options.Temperature != 0.7 {
		t.Errorf("wire options = %+v", seen.Options)
	}
	if len(seen.Tools) != 1 {
		t.Errorf("wire tools = %d, want 1", len(seen.Tools))
	}

	calls := resp.ToolCalls()
	if len(calls) != 2 || calls[0].Name != "get_ha_state" || calls[1].Name != "get_weather" {
		t.Fatalf("ToolCalls() = %+v", calls)
	}
	if calls[1].Args == nil {
		t.Error("empty arguments decoded as nil map")
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 8 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, 5*time.Second, nil)
	if _, err := c.Chat(context.Background(), ChatRequest{Model: "missing"}); err == nil {
		t.Fatal("Chat() succeeded against a 404")
	}
}
