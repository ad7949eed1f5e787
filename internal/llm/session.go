package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Session is a multi-turn conversation with a model. History is kept
// inside the session; callers only send the next message.
type Session interface {
	Send(ctx context.Context, content string, s Sampling) (*Response, error)
}

// SessionConfig configures a ChatSession.
type SessionConfig struct {
	Model  string
	System string
	Tools  []ToolSpec
	// HistoryLimit caps retained exchanges (user + assistant pairs).
	// Zero keeps everything.
	HistoryLimit int
}

// ChatSession is a Session backed by a stateless Client.
type ChatSession struct {
	client Client
	cfg    SessionConfig
	logger *slog.Logger

	mu      sync.Mutex
	history []Message
}

// NewChatSession starts a session with the given persona.
func NewChatSession(client Client, cfg SessionConfig, logger *slog.Logger) *ChatSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatSession{client: client, cfg: cfg, logger: logger}
}

// SetSystem replaces the system instruction used by later sends.
func (s *ChatSession) SetSystem(system string) {
	s.mu.Lock()
	s.cfg.System = system
	s.mu.Unlock()
}

// Reset drops the transcript.
func (s *ChatSession) Reset() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

// History returns a copy of the transcript.
func (s *ChatSession) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.history...)
}

// Send appends content as a user message, calls the model and records
// its reply. A failed call leaves the transcript unchanged.
//
// Tool calls in the reply are recorded as text so that the next user
// message can carry their results regardless of provider.
func (s *ChatSession) Send(ctx context.Context, content string, sampling Sampling) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append(append([]Message(nil), s.history...), Message{Role: RoleUser, Content: content})

	resp, err := s.client.Chat(ctx, ChatRequest{
		Model:    s.cfg.Model,
		System:   s.cfg.System,
		Messages: msgs,
		Tools:    s.cfg.Tools,
		Sampling: sampling,
	})
	if err != nil {
		return nil, err
	}
	if _, ok := resp.Top(); !ok {
		s.logger.Warn("model returned no candidates", "model", s.cfg.Model)
		return resp, nil
	}

	s.history = append(msgs, Message{Role: RoleAssistant, Content: transcriptText(resp)})
	s.trim()
	return resp, nil
}

// trim drops the oldest exchanges beyond HistoryLimit, keeping the
// transcript starting on a user message.
func (s *ChatSession) trim() {
	if s.cfg.HistoryLimit <= 0 {
		return
	}
	keep := s.cfg.HistoryLimit * 2
	if len(s.history) <= keep {
		return
	}
	h := s.history[len(s.history)-keep:]
	for len(h) > 0 && h[0].Role != RoleUser {
		h = h[1:]
	}
	s.history = append([]Message(nil), h...)
}

func transcriptText(resp *Response) string {
	c, _ := resp.Top()
	var lines []string
	for _, p := range c.Parts {
		switch p := p.(type) {
		case TextPart:
			lines = append(lines, strings.TrimSpace(p.Text))
		case ToolCallPart:
			args, _ := json.Marshal(p.Call.Args)
			lines = append(lines, fmt.Sprintf("[called %s %s]", p.Call.Name, args))
		}
	}
	return strings.Join(lines, "\n")
}
