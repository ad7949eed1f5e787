package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var seen map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&seen)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "set_timer", "arguments": "{\"seconds\": 300}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 12}
		}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL+"/v1", "sk-test", 5*time.Second, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		System:   "persona",
		Messages: []Message{{Role: RoleUser, Content: "five minute timer"}},
		Tools:    []ToolSpec{{Name: "set_timer", Description: "timer"}},
		Sampling: Sampling{Temperature: 0.7, MaxTokens: 256},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("wire messages = %d, want 2", len(msgs))
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "set_timer" || calls[0].Args["seconds"] != float64(300) {
		t.Errorf("ToolCalls() = %+v", calls)
	}
	if resp.InputTokens != 50 {
		t.Errorf("InputTokens = %d, want 50", resp.InputTokens)
	}
}

func TestOpenAIClient_ContentFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"m","choices":[{"index":0,"finish_reason":"content_filter","message":{"role":"assistant","content":""}}]}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", 5*time.Second, nil)
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})
	var se *SafetyError
	if !errors.As(err, &se) {
		t.Fatalf("Chat() error = %v, want *SafetyError", err)
	}
}
