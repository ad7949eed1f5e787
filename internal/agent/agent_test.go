package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/memory"
	"github.com/nugget/jarvis/internal/prompts"
	"github.com/nugget/jarvis/internal/tools"
)

type sent struct {
	Content  string
	Sampling llm.Sampling
}

type step struct {
	resp *llm.Response
	err  error
}

// scriptedSession replays steps in order, then repeats fallback.
type scriptedSession struct {
	mu       sync.Mutex
	steps    []step
	fallback *step
	sent     []sent
	systems  []string
	resets   int
}

func (s *scriptedSession) Send(_ context.Context, content string, sampling llm.Sampling) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{content, sampling})
	if len(s.steps) == 0 {
		if s.fallback == nil {
			return nil, errors.New("script exhausted")
		}
		return s.fallback.resp, s.fallback.err
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.resp, st.err
}

func (s *scriptedSession) SetSystem(system string) {
	s.mu.Lock()
	s.systems = append(s.systems, system)
	s.mu.Unlock()
}

func (s *scriptedSession) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func textResp(text string) *llm.Response {
	return &llm.Response{Candidates: []llm.Candidate{{Parts: []llm.Part{llm.TextPart{Text: text}}}}}
}

func callResp(calls ...llm.ToolCall) *llm.Response {
	parts := make([]llm.Part, len(calls))
	for i, c := range calls {
		parts[i] = llm.ToolCallPart{Call: c}
	}
	return &llm.Response{Candidates: []llm.Candidate{{Parts: parts}}}
}

func call(name string, args map[string]any) llm.ToolCall {
	if args == nil {
		args = map[string]any{}
	}
	return llm.ToolCall{Name: name, Args: args}
}

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	s, err := memory.NewStoreWithDB(db, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// probeRegistry registers a tool that counts its invocations.
func probeRegistry(count *atomic.Int32) *tools.Registry {
	r := tools.NewRegistry(nil)
	r.Register(&tools.Tool{
		Name:       "probe",
		Parameters: map[string]any{"type": "object"},
		Handler: func(context.Context, map[string]any) (string, error) {
			count.Add(1)
			return "ok", nil
		},
	})
	return r
}

func newTestConversation(t *testing.T, s Session, r *tools.Registry, cfg Config) (*Conversation, *memory.Store) {
	t.Helper()
	mem := newStore(t)
	return NewConversation("test", s, r, prompts.NewBuilder(mem, 3, nil), mem, cfg, nil), mem
}

func lastContext(t *testing.T, mem *memory.Store) memory.ContextEntry {
	t.Helper()
	entries, err := mem.RecentContext(1, true)
	if err != nil || len(entries) != 1 {
		t.Fatalf("RecentContext() = %v, %v", entries, err)
	}
	return entries[0]
}

func TestProcess_IterationCap(t *testing.T) {
	var count atomic.Int32
	s := &scriptedSession{fallback: &step{resp: callResp(call("probe", nil))}}
	conv, mem := newTestConversation(t, s, probeRegistry(&count), Config{})

	reply := conv.Process(context.Background(), "keep probing")

	if got := count.Load(); got != DefaultMaxToolCalls {
		t.Errorf("tool dispatches = %d, want %d", got, DefaultMaxToolCalls)
	}
	if want := "I executed the commands. Results: probe: ok"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
	// Opening send plus one results send per dispatch.
	if len(s.sent) != DefaultMaxToolCalls+1 {
		t.Errorf("model sends = %d, want %d", len(s.sent), DefaultMaxToolCalls+1)
	}
	if e := lastContext(t, mem); e.User != "keep probing" || e.Assistant != reply {
		t.Errorf("persisted %+v", e)
	}
}

func TestProcess_CapCountsCallsNotRounds(t *testing.T) {
	var count atomic.Int32
	batch := callResp(call("probe", nil), call("probe", nil), call("probe", nil))
	s := &scriptedSession{fallback: &step{resp: batch}}
	conv, _ := newTestConversation(t, s, probeRegistry(&count), Config{})

	conv.Process(context.Background(), "probe in threes")

	if got := count.Load(); got != DefaultMaxToolCalls {
		t.Errorf("tool dispatches = %d, want %d", got, DefaultMaxToolCalls)
	}
	// Rounds of 3 then 2 (truncated).
	if len(s.sent) != 3 {
		t.Errorf("model sends = %d, want 3", len(s.sent))
	}
	if !strings.Contains(s.sent[2].Content, "probe: ok\nprobe: ok") || strings.Count(s.sent[2].Content, "probe:") != 2 {
		t.Errorf("second results block = %q", s.sent[2].Content)
	}
}

func TestProcess_CapThenText(t *testing.T) {
	var count atomic.Int32
	probe := step{resp: callResp(call("probe", nil))}
	s := &scriptedSession{steps: []step{probe, probe, probe, probe, probe, {resp: textResp("All probed, Sir.")}}}
	conv, _ := newTestConversation(t, s, probeRegistry(&count), Config{})

	if reply := conv.Process(context.Background(), "probe"); reply != "All probed, Sir." {
		t.Errorf("reply = %q", reply)
	}
}

func TestProcess_PartialBatchFailure(t *testing.T) {
	r := tools.NewRegistry(nil)
	r.Register(&tools.Tool{Name: "broken", Handler: func(context.Context, map[string]any) (string, error) {
		return "", errors.New("connection refused")
	}})
	r.Register(&tools.Tool{Name: "working", Handler: func(context.Context, map[string]any) (string, error) {
		return "Success: Called light.turn_on on light.office_lamp", nil
	}})
	s := &scriptedSession{steps: []step{
		{resp: callResp(call("broken", nil), call("working", nil))},
		{resp: textResp("The lamp is on, Sir, but one check failed.")},
	}}
	conv, _ := newTestConversation(t, s, r, Config{})

	reply := conv.Process(context.Background(), "lamp on and check")

	want := "Function results:\nbroken: Error: connection refused\nworking: Success: Called light.turn_on on light.office_lamp"
	if s.sent[1].Content != want {
		t.Errorf("results message = %q, want %q", s.sent[1].Content, want)
	}
	if reply != "The lamp is on, Sir, but one check failed." {
		t.Errorf("reply = %q", reply)
	}
}

func TestProcess_ResultsRetry(t *testing.T) {
	var count atomic.Int32
	s := &scriptedSession{steps: []step{
		{resp: callResp(call("probe", nil))},
		{err: errors.New("malformed function response")},
		{resp: textResp("Probe complete, Sir.")},
	}}
	conv, _ := newTestConversation(t, s, probeRegistry(&count), Config{})

	if reply := conv.Process(context.Background(), "probe"); reply != "Probe complete, Sir." {
		t.Errorf("reply = %q", reply)
	}
	retry := s.sent[2]
	if retry.Content != "Based on these results, provide a natural response: probe: ok" {
		t.Errorf("retry content = %q", retry.Content)
	}
	if retry.Sampling != (llm.Sampling{Temperature: 0.5, MaxTokens: 200}) {
		t.Errorf("retry sampling = %+v", retry.Sampling)
	}
	if s.sent[0].Sampling != (llm.Sampling{Temperature: 0.7, MaxTokens: 256}) {
		t.Errorf("opening sampling = %+v", s.sent[0].Sampling)
	}
}

func TestProcess_CannedAfterRetryFails(t *testing.T) {
	r := tools.NewRegistry(nil)
	r.Register(&tools.Tool{Name: "get_travel_time", Handler: func(context.Context, map[string]any) (string, error) {
		return "Route not found: Atlantis", nil
	}})
	s := &scriptedSession{
		steps:    []step{{resp: callResp(call("get_travel_time", nil))}},
		fallback: &step{err: errors.New("model overloaded")},
	}
	conv, mem := newTestConversation(t, s, r, Config{})

	reply := conv.Process(context.Background(), "how long to Atlantis")
	if !strings.Contains(reply, "couldn't find a route") {
		t.Errorf("reply = %q", reply)
	}
	if e := lastContext(t, mem); !e.IsError {
		t.Error("canned apology not flagged as error")
	}
}

func TestProcess_OuterFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"safety", fmt.Errorf("chat: %w", &llm.SafetyError{Reason: "SAFETY"}), prompts.SafetyFallback},
		{"generic", errors.New("dial tcp: connection refused"), prompts.GenericFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &scriptedSession{steps: []step{{err: tt.err}}}
			conv, mem := newTestConversation(t, s, tools.NewRegistry(nil), Config{})

			if reply := conv.Process(context.Background(), "plan my day"); reply != tt.want {
				t.Errorf("reply = %q, want %q", reply, tt.want)
			}
			e := lastContext(t, mem)
			if !e.IsError || e.Assistant != tt.want {
				t.Errorf("persisted %+v", e)
			}
		})
	}
}

func TestProcess_NoCandidates(t *testing.T) {
	s := &scriptedSession{steps: []step{{resp: &llm.Response{}}}}
	conv, _ := newTestConversation(t, s, tools.NewRegistry(nil), Config{})

	if reply := conv.Process(context.Background(), "hello"); reply != prompts.NoTextFallback {
		t.Errorf("reply = %q", reply)
	}
}

func TestProcess_PanickingSession(t *testing.T) {
	conv, mem := newTestConversation(t, panicSession{}, tools.NewRegistry(nil), Config{})

	if reply := conv.Process(context.Background(), "hello"); reply != prompts.GenericFallback {
		t.Errorf("reply = %q", reply)
	}
	if e := lastContext(t, mem); e.User != "hello" {
		t.Errorf("persisted %+v", e)
	}
}

type panicSession struct{}

func (panicSession) Send(context.Context, string, llm.Sampling) (*llm.Response, error) {
	panic("provider bug")
}
func (panicSession) SetSystem(string) {}
func (panicSession) Reset() {}

func TestProcess_StandingRefresh(t *testing.T) {
	s := &scriptedSession{fallback: &step{resp: textResp("Noted, Sir.")}}
	conv, mem := newTestConversation(t, s, tools.NewRegistry(nil), Config{PreferenceRefresh: RefreshStanding})

	conv.Process(context.Background(), "hello")
	if err := mem.SetPreference("favorite_color", "red"); err != nil {
		t.Fatal(err)
	}
	conv.Process(context.Background(), "what is my favorite color")

	if len(s.systems) != 2 {
		t.Fatalf("SetSystem calls = %d, want 2", len(s.systems))
	}
	if strings.Contains(s.systems[0], "favorite_color") || !strings.Contains(s.systems[1], "- favorite_color: red") {
		t.Errorf("system prompts not refreshed per turn:\n%q", s.systems)
	}
	if s.sent[1].Content != "what is my favorite color" {
		t.Errorf("standing mode sent %q, want raw text", s.sent[1].Content)
	}
}

func TestProcess_SnippetRefresh(t *testing.T) {
	s := &scriptedSession{fallback: &step{resp: textResp("Noted, Sir.")}}
	conv, mem := newTestConversation(t, s, tools.NewRegistry(nil), Config{PreferenceRefresh: RefreshSnippet})

	conv.Process(context.Background(), "hello")
	if err := mem.SetPreference("favorite_color", "red"); err != nil {
		t.Fatal(err)
	}
	conv.Process(context.Background(), "what is my favorite color")

	if !strings.HasPrefix(s.sent[0].Content, prompts.Persona()) || !strings.HasSuffix(s.sent[0].Content, "\n\nUser: hello") {
		t.Errorf("first message = %q", s.sent[0].Content)
	}
	want := "what is my favorite color\n\n(Context: Current preferences: favorite_color=red)"
	if s.sent[1].Content != want {
		t.Errorf("second message = %q, want %q", s.sent[1].Content, want)
	}
	if len(s.systems) != 0 {
		t.Errorf("snippet mode called SetSystem %d times", len(s.systems))
	}

	conv.Reset()
	conv.Process(context.Background(), "hi again")
	if !strings.HasPrefix(s.sent[2].Content, prompts.Persona()) {
		t.Error("first message after Reset should carry the full prompt")
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	s := &scriptedSession{}
	conv, mem := newTestConversation(t, s, tools.NewRegistry(nil), Config{})
	reply := conv.Process(context.Background(), "   ")
	if reply == "" {
		t.Error("empty input produced empty reply")
	}
	if len(s.sent) != 0 {
		t.Errorf("empty input reached the model")
	}
	got := lastContext(t, mem)
	if got.User != "" || got.Assistant != reply || !got.IsError {
		t.Errorf("saved exchange = %+v, want blank input flagged as error", got)
	}
}
