// Package llm defines the model-facing contract used by the conversation
// loop and implements it for Ollama, Anthropic and OpenAI-compatible
// providers.
package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNoCandidates is returned when a provider answers without any
// candidate output.
var ErrNoCandidates = errors.New("model returned no candidates")

// SafetyError reports that the provider refused to answer because of
// its content policy.
type SafetyError struct {
	Reason string
}

func (e *SafetyError) Error() string {
	return fmt.Sprintf("response blocked by safety filter: %s", e.Reason)
}

// Message is one entry of a chat transcript.
type Message struct {
	Role    string
	Content string
	// Images are raw image bytes attached to a user message.
	Images []Image
}

// Image is an attached picture.
type Image struct {
	Data     []byte
	MIMEType string
}

// ToolCall is a structured request from the model to run a tool.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"arguments"`
}

// Part is one element of a candidate: either a TextPart or a
// ToolCallPart. Providers decode their wire format into parts once;
// callers switch on the concrete type.
type Part interface {
	isPart()
}

// TextPart is free text produced by the model.
type TextPart struct {
	Text string
}

// ToolCallPart is a tool invocation requested by the model.
type ToolCallPart struct {
	Call ToolCall
}

func (TextPart) isPart()     {}
func (ToolCallPart) isPart() {}

// Candidate is one alternative answer with its ordered parts.
type Candidate struct {
	Parts        []Part
	FinishReason string
}

// Response is a provider-neutral model reply.
type Response struct {
	Model        string
	Candidates   []Candidate
	InputTokens  int
	OutputTokens int
}

// Top returns the first candidate, or false when there is none.
func (r *Response) Top() (Candidate, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Text concatenates the text parts of the top candidate.
func (r *Response) Text() string {
	c, ok := r.Top()
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if t, ok := p.(TextPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

// ToolCalls returns every tool call in the top candidate, in order.
func (r *Response) ToolCalls() []ToolCall {
	c, ok := r.Top()
	if !ok {
		return nil
	}
	var calls []ToolCall
	for _, p := range c.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.Call)
		}
	}
	return calls
}

// Sampling bounds a single model call.
type Sampling struct {
	Temperature float64
	MaxTokens   int
}

// ToolSpec advertises a tool to the model. Parameters is a JSON Schema
// object.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatRequest is a complete provider call.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
	Sampling Sampling
}

// singleCandidate builds the usual one-candidate response from text and
// tool calls, text first.
func singleCandidate(model, text string, calls []ToolCall, finish string) *Response {
	var parts []Part
	if strings.TrimSpace(text) != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, c := range calls {
		if c.Args == nil {
			c.Args = map[string]any{}
		}
		parts = append(parts, ToolCallPart{Call: c})
	}
	return &Response{
		Model:      model,
		Candidates: []Candidate{{Parts: parts, FinishReason: finish}},
	}
}
