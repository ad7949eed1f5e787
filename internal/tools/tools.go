// Package tools defines the tools available to the agent. A single
// Registry holds each tool's schema and handler; the same entries are
// advertised to the model and used for dispatch.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/jarvis/internal/llm"
)

// Handler runs a tool. A returned error is reported to the model as an
// error-prefixed result; it never aborts the conversation turn.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry. Use [Register] or
// [RegisterBuiltins] to populate it.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; !ok {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := append([]string(nil), r.order...)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// List returns the tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Specs returns the tools in the form advertised to the model.
func (r *Registry) Specs() []llm.ToolSpec {
	tools := r.List()
	specs := make([]llm.ToolSpec, 0, len(tools))
	for _, t := range tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return specs
}

// Execute runs one tool. Unknown names return ErrToolUnavailable; the
// orchestrator never dispatches those.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t := r.Get(name)
	if t == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}
	return t.Handler(ctx, args)
}

// Result is the outcome of one dispatched call.
type Result struct {
	Call     llm.ToolCall
	Text     string
	Err      error
	Duration time.Duration
}

// Failed reports whether the call returned an error.
func (res Result) Failed() bool { return res.Err != nil }

// Output is the text fed back to the model: the tool's result, or the
// error prefixed so the model can tell failures apart.
func (res Result) Output() string {
	if res.Err != nil {
		return ErrorPrefix + res.Err.Error()
	}
	return res.Text
}

// ErrorPrefix marks a failed tool call in combined results.
const ErrorPrefix = "Error: "

// Dispatch runs every call concurrently and returns the results in the
// order the calls were requested. A failing or panicking tool never
// affects its siblings.
func (r *Registry) Dispatch(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.run(ctx, call)
		}()
	}
	wg.Wait()
	return results
}

func (r *Registry) run(ctx context.Context, call llm.ToolCall) (res Result) {
	res.Call = call
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, p)
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			r.logger.Warn("tool call failed",
				"tool", call.Name,
				"args", call.Args,
				"conversation", ConversationIDFromContext(ctx),
				"error", res.Err,
			)
			return
		}
		r.logger.Debug("tool call completed",
			"tool", call.Name,
			"args", call.Args,
			"duration", res.Duration.Round(time.Millisecond),
			"result_len", len(res.Text),
		)
	}()
	res.Text, res.Err = r.Execute(ctx, call.Name, call.Args)
	return res
}

// Combine renders results one per line, each labelled with the tool
// that produced it.
func Combine(results []Result) string {
	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, fmt.Sprintf("%s: %s", res.Call.Name, res.Output()))
	}
	return strings.Join(lines, "\n")
}
