package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/jarvis/internal/config"
)

// Client is the interface that all LLM providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*Response, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// New builds the provider client selected in cfg.
func New(cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaClient(cfg.URL, timeout, logger), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires llm.api_key")
		}
		return NewAnthropicClient(cfg.URL, cfg.APIKey, timeout, logger), nil
	case "openai":
		return NewOpenAIClient(cfg.URL, cfg.APIKey, timeout, logger), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
