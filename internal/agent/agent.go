// Package agent runs conversation turns: a narrow intent pre-pass, then
// a bounded function-calling loop against the model, with canned
// fallbacks so that a caller always receives text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/prompts"
	"github.com/nugget/jarvis/internal/tools"
)

// Preference refresh modes.
const (
	// RefreshStanding rebuilds the system instruction before every turn.
	RefreshStanding = "standing"
	// RefreshSnippet sends the full prompt with the first message and a
	// compact preference snippet with every later one.
	RefreshSnippet = "snippet"
)

// DefaultMaxToolCalls bounds tool invocations in one turn.
const DefaultMaxToolCalls = 5

// Session is the model conversation a Conversation drives.
type Session interface {
	llm.Session
	SetSystem(system string)
	Reset()
}

// Dispatcher runs tool calls and returns their results in request
// order.
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []llm.ToolCall) []tools.Result
}

// Memory is the part of the memory store a turn reads and writes.
type Memory interface {
	prompts.Memory
	SetPreference(key string, value any) error
	PreferenceString(key, def string) string
	SaveContext(userInput, response string, isError bool) error
}

// Config tunes one conversation.
type Config struct {
	MaxToolCalls      int
	Sampling          llm.Sampling
	Retry             llm.Sampling
	PreferenceRefresh string
}

func (c Config) withDefaults() Config {
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = DefaultMaxToolCalls
	}
	if c.Sampling.MaxTokens <= 0 {
		c.Sampling = llm.Sampling{Temperature: 0.7, MaxTokens: 256}
	}
	if c.Retry.MaxTokens <= 0 {
		c.Retry = llm.Sampling{Temperature: 0.5, MaxTokens: 200}
	}
	if c.PreferenceRefresh != RefreshSnippet {
		c.PreferenceRefresh = RefreshStanding
	}
	return c
}

// Conversation is one client's dialogue with the assistant. Turns are
// processed one at a time.
type Conversation struct {
	id      string
	session Session
	tools   Dispatcher
	prompts *prompts.Builder
	mem     Memory
	cfg     Config
	logger  *slog.Logger

	mu    sync.Mutex
	turns int

	lastUsed atomic.Int64 // unix nanoseconds
}

// NewConversation wires a conversation over session. mem may be nil, in
// which case nothing is persisted and the intent pre-pass is skipped.
func NewConversation(id string, session Session, dispatcher Dispatcher, builder *prompts.Builder, mem Memory, cfg Config, logger *slog.Logger) *Conversation {
	if logger == nil {
		logger = slog.Default()
	}
	if builder == nil {
		builder = prompts.NewBuilder(mem, 0, logger)
	}
	c := &Conversation{
		id:      id,
		session: session,
		tools:   dispatcher,
		prompts: builder,
		mem:     mem,
		cfg:     cfg.withDefaults(),
		logger:  logger.With("conversation", id),
	}
	c.lastUsed.Store(time.Now().UnixNano())
	return c
}

// ID returns the conversation key.
func (c *Conversation) ID() string { return c.id }

// LastUsed returns when the last turn started.
func (c *Conversation) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// Reset clears the model transcript. Memory is untouched.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Reset()
	c.turns = 0
	c.logger.Info("conversation reset")
}

// Process runs one turn and returns the reply. It never fails: errors
// become apologetic text, and every turn is written to memory.
func (c *Conversation) Process(ctx context.Context, text string) (reply string) {
	start := time.Now()
	c.lastUsed.Store(start.UnixNano())
	c.mu.Lock()
	defer c.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		reply = "I didn't catch that, Sir."
		c.save(text, reply, true)
		return reply
	}
	ctx = tools.WithConversationID(ctx, c.id)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("turn panicked", "input", text, "panic", r)
			reply = prompts.GenericFallback
			c.persist(text, reply)
		}
	}()

	if c.mem != nil {
		if answer, ok := interceptIntent(c.mem, text); ok {
			c.logger.Info("answered by intent pre-pass", "input", text)
			c.persist(text, answer)
			return answer
		}
	}

	reply, err := c.run(ctx, text)
	if err == nil {
		c.turns++
	} else {
		var safety *llm.SafetyError
		if errors.As(err, &safety) {
			c.logger.Error("safety filter blocked turn", "input", text, "reason", safety.Reason)
			reply = prompts.SafetyFallback
		} else {
			c.logger.Error("turn failed", "input", text, "error", err)
			reply = prompts.GenericFallback
		}
	}

	c.logger.Info("turn complete", "input", text, "reply", reply, "elapsed", time.Since(start).Round(time.Millisecond))
	c.persist(text, reply)
	return reply
}

// run is the function-calling loop. Errors are returned only when the
// opening send fails; later model failures degrade to canned replies.
func (c *Conversation) run(ctx context.Context, text string) (string, error) {
	resp, err := c.session.Send(ctx, c.compose(text), c.cfg.Sampling)
	if err != nil {
		return "", fmt.Errorf("send: %w", err)
	}

	calls := 0
	var lastResults string
	for {
		if _, ok := resp.Top(); !ok {
			c.logger.Warn("model returned no candidates", "tool_calls", calls)
			break
		}
		batch := resp.ToolCalls()
		if len(batch) == 0 {
			break
		}
		if calls >= c.cfg.MaxToolCalls {
			c.logger.Warn("tool call limit reached", "limit", c.cfg.MaxToolCalls, "pending", len(batch))
			if lastResults != "" {
				return cannedReply(lastResults), nil
			}
			break
		}
		if room := c.cfg.MaxToolCalls - calls; len(batch) > room {
			c.logger.Warn("truncating tool batch at limit", "requested", len(batch), "allowed", room)
			batch = batch[:room]
		}

		results := c.tools.Dispatch(ctx, batch)
		calls += len(batch)
		lastResults = tools.Combine(results)
		c.logger.Debug("tool batch complete", "count", len(batch), "total", calls)

		next, err := c.sendResults(ctx, lastResults)
		if err != nil {
			c.logger.Error("model unavailable for tool results, using canned reply", "error", err, "results", lastResults)
			return cannedReply(lastResults), nil
		}
		resp = next
	}

	if reply := resp.Text(); reply != "" {
		return reply, nil
	}
	c.logger.Error("no text in final response", "tool_calls", calls)
	return prompts.NoTextFallback, nil
}

// compose builds the outbound message for text and refreshes the
// standing system instruction when that mode is selected.
func (c *Conversation) compose(text string) string {
	if c.cfg.PreferenceRefresh == RefreshStanding {
		c.session.SetSystem(c.prompts.Build())
		return text
	}
	if c.turns == 0 {
		return c.prompts.Build() + "\n\nUser: " + text
	}
	if snippet := c.prompts.PreferenceSnippet(); snippet != "" {
		return text + "\n\n" + snippet
	}
	return text
}

// sendResults feeds combined tool output back to the model, retrying
// once with a simpler wrapper at the degraded sampling.
func (c *Conversation) sendResults(ctx context.Context, combined string) (*llm.Response, error) {
	resp, err := c.session.Send(ctx, prompts.ToolResults(combined), c.cfg.Sampling)
	if err == nil {
		return resp, nil
	}
	c.logger.Warn("model rejected tool results, retrying", "error", err)

	resp, err = c.session.Send(ctx, prompts.ToolResultsRetry(combined), c.cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("retry tool results: %w", err)
	}
	return resp, nil
}

func (c *Conversation) persist(input, reply string) {
	c.save(input, reply, IsErrorReply(reply))
}

func (c *Conversation) save(input, reply string, isError bool) {
	if c.mem == nil {
		return
	}
	if err := c.mem.SaveContext(input, reply, isError); err != nil {
		c.logger.Warn("failed to save context", "error", err)
	}
}
