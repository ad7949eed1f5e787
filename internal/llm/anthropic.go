package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/jarvis/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL
// selects the public API.
func NewAnthropicClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicAPIURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithLogger(logger),
		),
	}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	ID     string           `json:"id,omitempty"`
	Name   string           `json:"name,omitempty"`
	Input  any              `json:"input,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicResponse struct {
	Model      string             `json:"model"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a chat completion request.
func (c *AnthropicClient) Chat(ctx context.Context, req ChatRequest) (*Response, error) {
	maxTokens := req.Sampling.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	temp := req.Sampling.Temperature

	wire := anthropicRequest{
		Model:       req.Model,
		Messages:    convertToAnthropic(req.Messages),
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		Tools:       convertToolsToAnthropic(req.Tools),
	}

	c.logger.Debug("preparing request",
		"model", req.Model,
		"messages", len(wire.Messages),
		"tools", len(wire.Tools),
		"system_len", len(req.System),
	)

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := c.newRequest(ctx, jsonData)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	if err := httpkit.DoJSON(c.httpClient, httpReq, &resp); err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}
	if resp.StopReason == "refusal" {
		return nil, &SafetyError{Reason: resp.StopReason}
	}

	out := convertFromAnthropic(&resp)
	c.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", out.InputTokens,
		"output_tokens", out.OutputTokens,
		"stop_reason", resp.StopReason,
	)
	return out, nil
}

// Ping verifies the API key with a one-token request.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	jsonData, err := json.Marshal(anthropicRequest{
		Model:     "claude-3-5-haiku-latest",
		Messages:  []anthropicMessage{{Role: RoleUser, Content: []anthropicContent{{Type: "text", Text: "ping"}}}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, jsonData)
	if err != nil {
		return err
	}
	return httpkit.DoJSON(c.httpClient, httpReq, nil)
}

func (c *AnthropicClient) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	return httpReq, nil
}

// convertToAnthropic converts transcript messages to content blocks.
// System messages are carried separately on the request.
func convertToAnthropic(messages []Message) []anthropicMessage {
	result := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			continue
		}
		var blocks []anthropicContent
		for _, img := range msg.Images {
			blocks = append(blocks, anthropicContent{
				Type: "image",
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: img.MIMEType,
					Data:      base64.StdEncoding.EncodeToString(img.Data),
				},
			})
		}
		if msg.Content != "" || len(blocks) == 0 {
			blocks = append(blocks, anthropicContent{Type: "text", Text: msg.Content})
		}
		result = append(result, anthropicMessage{Role: msg.Role, Content: blocks})
	}
	return result
}

func convertToolsToAnthropic(specs []ToolSpec) []anthropicTool {
	if len(specs) == 0 {
		return nil
	}
	result := make([]anthropicTool, 0, len(specs))
	for _, s := range specs {
		var schema any = s.Parameters
		if s.Parameters == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result = append(result, anthropicTool{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: schema,
		})
	}
	return result
}

// convertFromAnthropic maps content blocks onto parts in their original
// order.
func convertFromAnthropic(resp *anthropicResponse) *Response {
	var parts []Part
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			if strings.TrimSpace(block.Text) != "" {
				parts = append(parts, TextPart{Text: block.Text})
			}
		case "tool_use":
			args, ok := block.Input.(map[string]any)
			if !ok {
				args = map[string]any{}
			}
			parts = append(parts, ToolCallPart{Call: ToolCall{ID: block.ID, Name: block.Name, Args: args}})
		}
	}
	return &Response{
		Model:        resp.Model,
		Candidates:   []Candidate{{Parts: parts, FinishReason: resp.StopReason}},
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
}
