package agent

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/jarvis/internal/llm"
	"github.com/nugget/jarvis/internal/prompts"
)

// DefaultConversationID keys requests that name no conversation.
const DefaultConversationID = "default"

// ToolSet is a Dispatcher that can also advertise its tools.
type ToolSet interface {
	Dispatcher
	Specs() []llm.ToolSpec
}

// ManagerConfig configures the conversations a Manager creates.
type ManagerConfig struct {
	Model        string
	HistoryLimit int
	Conversation Config
	// OnTokens observes the token usage of every model call.
	OnTokens func(inputTokens, outputTokens int)
}

// Manager keeps one Conversation per client key. All conversations
// share the model client, the tools and memory.
type Manager struct {
	client  llm.Client
	tools   ToolSet
	prompts *prompts.Builder
	mem     Memory
	cfg     ManagerConfig
	logger  *slog.Logger

	mu          sync.Mutex
	convs       map[string]*Conversation
	lastRequest time.Time
}

// NewManager creates a Manager.
func NewManager(client llm.Client, toolSet ToolSet, builder *prompts.Builder, mem Memory, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OnTokens != nil {
		client = &meteredClient{Client: client, observe: cfg.OnTokens}
	}
	return &Manager{
		client:  client,
		tools:   toolSet,
		prompts: builder,
		mem:     mem,
		cfg:     cfg,
		logger:  logger,
		convs:   make(map[string]*Conversation),
	}
}

// Get returns the conversation for id, creating it on first use.
func (m *Manager) Get(id string) *Conversation {
	if id == "" {
		id = DefaultConversationID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.convs[id]; ok {
		return c
	}
	session := llm.NewChatSession(m.client, llm.SessionConfig{
		Model:        m.cfg.Model,
		System:       prompts.Persona(),
		Tools:        m.tools.Specs(),
		HistoryLimit: m.cfg.HistoryLimit,
	}, m.logger)
	c := NewConversation(id, session, m.tools, m.prompts, m.mem, m.cfg.Conversation, m.logger)
	m.convs[id] = c
	m.logger.Info("conversation started", "conversation", id)
	return c
}

// Process runs one turn in conversation id.
func (m *Manager) Process(ctx context.Context, id, text string) string {
	m.mu.Lock()
	m.lastRequest = time.Now()
	m.mu.Unlock()
	return m.Get(id).Process(ctx, text)
}

// Reset clears the transcript of conversation id and reports whether it
// existed.
func (m *Manager) Reset(id string) bool {
	if id == "" {
		id = DefaultConversationID
	}
	m.mu.Lock()
	c, ok := m.convs[id]
	m.mu.Unlock()
	if ok {
		c.Reset()
	}
	return ok
}

// Close forgets conversation id.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; ok {
		delete(m.convs, id)
		m.logger.Debug("conversation closed", "conversation", id)
	}
}

// Sweep closes conversations idle for longer than maxIdle and returns
// how many were closed.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	m.mu.Lock()
	defer m.mu.Unlock()

	closed := 0
	for id, c := range m.convs {
		if c.LastUsed().Before(cutoff) {
			delete(m.convs, id)
			closed++
		}
	}
	if closed > 0 {
		m.logger.Info("idle conversations closed", "count", closed, "remaining", len(m.convs))
	}
	return closed
}

// Active returns the number of open conversations.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.convs)
}

// IDs returns the open conversation keys, sorted.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastRequest returns when the last turn arrived, or the zero time.
func (m *Manager) LastRequest() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRequest
}

// meteredClient reports token usage of successful calls.
type meteredClient struct {
	llm.Client
	observe func(inputTokens, outputTokens int)
}

func (c *meteredClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.Response, error) {
	resp, err := c.Client.Chat(ctx, req)
	if err == nil && resp != nil {
		c.observe(resp.InputTokens, resp.OutputTokens)
	}
	return resp, err
}
