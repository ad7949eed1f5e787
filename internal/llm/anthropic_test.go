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

func TestConvertToAnthropic(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "ignored here"},
		{Role: RoleUser, Content: "what is this", Images: []Image{{Data: []byte{1, 2}, MIMEType: "image/jpeg"}}},
		{Role: RoleAssistant, Content: "A cat, Sir."},
	}

	got := convertToAnthropic(msgs)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (system dropped)", len(got))
	}
	if len(got[0].Content) != 2 || got[0].Content[0].Type != "image" || got[0].Content[1].Type != "text" {
		t.Errorf("user blocks = %+v, want image then text", got[0].Content)
	}
	if got[0].Content[0].Source.Data != "AQI=" {
		t.Errorf("image data = %q, want base64", got[0].Content[0].Source.Data)
	}
}

func TestConvertFromAnthropic_KeepsPartOrder(t *testing.T) {
	resp := &anthropicResponse{
		Model: "claude",
		Content: []anthropicContent{
			{Type: "text", Text: "Let me check."},
			{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: map[string]any{"city": "Leeds"}},
			{Type: "tool_use", ID: "toolu_2", Name: "get_current_time"},
		},
	}

	out := convertFromAnthropic(resp)
	c, ok := out.Top()
	if !ok || len(c.Parts) != 3 {
		t.Fatalf("parts = %+v", c.Parts)
	}
	if _, ok := c.Parts[0].(TextPart); !ok {
		t.Errorf("part 0 = %T, want TextPart", c.Parts[0])
	}
	tc, ok := c.Parts[2].(ToolCallPart)
	if !ok || tc.Call.Name != "get_current_time" || tc.Call.Args == nil {
		t.Errorf("part 2 = %+v", c.Parts[2])
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var seen anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "sk-test" || r.URL.Path != "/v1/messages" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewDecoder(r.Body).Decode(&seen)
		io.WriteString(w, `{"model":"claude","role":"assistant","stop_reason":"end_turn",
			"content":[{"type":"text","text":"Good evening, Sir."}],
			"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "sk-test", 5*time.Second, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "claude",
		System:   "persona",
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Sampling: Sampling{Temperature: 0.5, MaxTokens: 200},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Text() != "Good evening, Sir." {
		t.Errorf("Text() = %q", resp.Text())
	}
	if seen.System != "persona" || seen.MaxTokens != 200 || seen.Temperature == nil || *seen.Temperature != 0.5 {
		t.Errorf("wire request = %+v", seen)
	}
}

func TestAnthropicClient_Refusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"model":"claude","role":"assistant","stop_reason":"refusal","content":[]}`)
	}))
	defer srv.Close()

	c := NewAnthropicClient(srv.URL, "k", 5*time.Second, nil)
	_, err := c.Chat(context.Background(), ChatRequest{Model: "claude"})
	var se *SafetyError
	if !errors.As(err, &se) {
		t.Fatalf("Chat() error = %v, want *SafetyError", err)
	}
}
