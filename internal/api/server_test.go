package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/nugget/jarvis/internal/connwatch"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/tools"
)

// fakeAgent echoes input and records what it was asked.
type fakeAgent struct {
	mu     sync.Mutex
	turns  []turn
	resets []string
	closed []string
	reply  string
}

type turn struct{ id, text string }

func (a *fakeAgent) Process(_ context.Context, id, text string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, turn{id, text})
	if a.reply != "" {
		return a.reply
	}
	return "echo: " + text
}

func (a *fakeAgent) Reset(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets = append(a.resets, id)
	return true
}

func (a *fakeAgent) Close(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = append(a.closed, id)
}

type fakeHealth struct{ ready bool }

func (h fakeHealth) Statuses() []connwatch.Status {
	return []connwatch.Status{{Name: "homeassistant", Ready: h.ready}}
}

func (h fakeHealth) Healthy() bool { return h.ready }

func newTestServer(t *testing.T, agent *fakeAgent) (*Server, *memory.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := memory.NewStoreWithDB(db, 0, nil)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}

	reg := tools.NewRegistry(nil)
	reg.Register(&tools.Tool{
		Name:        "probe",
		Description: "test tool",
		Parameters:  map[string]any{"type": "object"},
		Handler:     func(context.Context, map[string]any) (string, error) { return "ok", nil },
	})

	return NewServer(Config{Port: 10401}, agent, store, reg, fakeHealth{ready: true}, nil), store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestConversation(t *testing.T) {
	agent := &fakeAgent{reply: "The lamp is **on**, Sir."}
	s, _ := newTestServer(t, agent)

	w := do(t, s, "POST", "/conversation", `{"text":"is the lamp on?","conversation_id":"kitchen"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp ConversationResponse
	decode(t, w, &resp)
	if resp.Response != "The lamp is on, Sir." {
		t.Errorf("response = %q, want markdown stripped", resp.Response)
	}
	if len(agent.turns) != 1 || agent.turns[0] != (turn{"kitchen", "is the lamp on?"}) {
		t.Errorf("turns = %+v", agent.turns)
	}
}

func TestConversation_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "turn on the lights"},
		{"blank text", `{"text":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &fakeAgent{}
			s, _ := newTestServer(t, agent)
			w := do(t, s, "POST", "/conversation", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if len(agent.turns) != 0 {
				t.Errorf("agent called %d times, want 0", len(agent.turns))
			}
		})
	}
}

func TestIntent(t *testing.T) {
	agent := &fakeAgent{reply: "Timers:\n\n- pasta\n- eggs"}
	s, _ := newTestServer(t, agent)

	w := do(t, s, "POST", "/intent", `{"text":"what timers are running","language":"en"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp IntentResponse
	decode(t, w, &resp)
	if got, want := resp.Response.Speech.Plain.Speech, "Timers: pasta. eggs."; got != want {
		t.Errorf("speech = %q, want %q", got, want)
	}
	if resp.ConversationID == "" {
		t.Error("conversation_id should be generated when absent")
	}
	if agent.turns[0].id != resp.ConversationID {
		t.Errorf("turn ran in %q, response names %q", agent.turns[0].id, resp.ConversationID)
	}

	w = do(t, s, "POST", "/intent", `{"text":"and now?","conversation_id":"abc"}`)
	decode(t, w, &resp)
	if resp.ConversationID != "abc" {
		t.Errorf("conversation_id = %q, want abc", resp.ConversationID)
	}
}

func TestConversationReset(t *testing.T) {
	agent := &fakeAgent{}
	s, _ := newTestServer(t, agent)

	w := do(t, s, "POST", "/v1/conversation/reset", `{"conversation_id":"kitchen"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	w = do(t, s, "POST", "/v1/conversation/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if len(agent.resets) != 2 || agent.resets[0] != "kitchen" || agent.resets[1] != "" {
		t.Errorf("resets = %q", agent.resets)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, &fakeAgent{})
	w := do(t, s, "GET", "/health", "")
	var body struct {
		Status   string             `json:"status"`
		Version  string             `json:"version"`
		Services []connwatch.Status `json:"services"`
	}
	decode(t, w, &body)
	if body.Status != "healthy" || body.Version == "" {
		t.Errorf("health = %+v", body)
	}
	if len(body.Services) != 1 || body.Services[0].Name != "homeassistant" {
		t.Errorf("services = %+v", body.Services)
	}

	degraded := NewServer(Config{}, &fakeAgent{}, nil, nil, fakeHealth{ready: false}, nil)
	w = do(t, degraded, "GET", "/health", "")
	decode(t, w, &body)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
}

func TestPreferences(t *testing.T) {
	s, store := newTestServer(t, &fakeAgent{})

	w := do(t, s, "PUT", "/v1/preferences/favorite_color", `{"value":"blue"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("PUT status = %d (body %s)", w.Code, w.Body.String())
	}
	if got := store.PreferenceString("favorite_color", ""); got != "blue" {
		t.Errorf("stored value = %q, want blue", got)
	}

	w = do(t, s, "GET", "/v1/preferences/favorite_color", "")
	var one struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	decode(t, w, &one)
	if one.Value != "blue" {
		t.Errorf("GET value = %q, want blue", one.Value)
	}

	w = do(t, s, "GET", "/v1/preferences", "")
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	if w := do(t, s, "DELETE", "/v1/preferences/favorite_color", ""); w.Code != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want 204", w.Code)
	}
	if w := do(t, s, "DELETE", "/v1/preferences/favorite_color", ""); w.Code != http.StatusNotFound {
		t.Errorf("second DELETE status = %d, want 404", w.Code)
	}
	if w := do(t, s, "GET", "/v1/preferences/favorite_color", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}
	if w := do(t, s, "PUT", "/v1/preferences/x", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("PUT without value status = %d, want 400", w.Code)
	}
}

func TestMemoryStatsAndTools(t *testing.T) {
	s, store := newTestServer(t, &fakeAgent{})
	if err := store.SaveContext("hello", "Good evening, Sir.", false); err != nil {
		t.Fatal(err)
	}

	w := do(t, s, "GET", "/v1/memory/stats", "")
	var stats memory.Stats
	decode(t, w, &stats)
	if stats.ContextEntries != 1 {
		t.Errorf("context_entries = %d, want 1", stats.ContextEntries)
	}

	w = do(t, s, "GET", "/v1/tools", "")
	var list struct {
		Count int          `json:"count"`
		Tools []tools.Tool `json:"tools"`
	}
	decode(t, w, &list)
	if list.Count != 1 || list.Tools[0].Name != "probe" {
		t.Errorf("tools = %+v", list)
	}
}

func TestUnconfiguredMemory(t *testing.T) {
	s := NewServer(Config{}, &fakeAgent{}, nil, nil, nil, nil)
	for _, path := range []string{"/v1/memory/stats", "/v1/preferences", "/v1/tools"} {
		if w := do(t, s, "GET", path, ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s status = %d, want 503", path, w.Code)
		}
	}
}

func TestWebSocket(t *testing.T) {
	agent := &fakeAgent{}
	s, _ := newTestServer(t, agent)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}

	for _, text := range []string{"hello", "again"} {
		if err := conn.WriteJSON(wsMessage{Text: text}); err != nil {
			t.Fatalf("write: %v", err)
		}
		var resp wsMessage
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read: %v", err)
		}
		if resp.Response != "echo: "+text {
			t.Errorf("response = %q, want %q", resp.Response, "echo: "+text)
		}
	}

	if err := conn.WriteJSON(wsMessage{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp wsMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error != "text is required" {
		t.Errorf("error = %q, want text is required", resp.Error)
	}
	conn.Close()

	agent.mu.Lock()
	defer agent.mu.Unlock()
	if len(agent.turns) != 2 || agent.turns[0].id != agent.turns[1].id {
		t.Fatalf("turns = %+v, want two in one conversation", agent.turns)
	}
	if !strings.HasPrefix(agent.turns[0].id, "ws-") {
		t.Errorf("conversation id = %q, want ws- prefix", agent.turns[0].id)
	}
}
