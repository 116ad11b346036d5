package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicAPIVersion     = "2023-06-01"
	anthropicMaxTokens      = 1024
)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey, baseURL string, logger *slog.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}
	logger = logger.With("provider", "anthropic")
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(logger),
		logger:     logger,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming Messages request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	msgs, system := convertToAnthropic(messages)

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(msgs),
		"system_len", len(system),
	)

	req := anthropicRequest{
		Model:     model,
		Messages:  msgs,
		System:    system,
		MaxTokens: anthropicMaxTokens,
	}

	start := time.Now()
	var resp anthropicResponse
	if err := postJSON(ctx, c.httpClient, c.logger, "anthropic", c.baseURL+"/v1/messages", c.headers(), req, &resp); err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result := &ChatResponse{
		Model:        resp.Model,
		Message:      Message{Role: RoleAssistant, Content: text.String()},
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Elapsed:      time.Since(start),
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping lists models, which needs a valid key but costs no tokens.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	return getOK(ctx, c.httpClient, "anthropic", c.baseURL+"/v1/models?limit=1", c.headers())
}

func (c *AnthropicClient) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}
}

// convertToAnthropic extracts system messages into the separate system
// prompt. Consecutive messages with the same role are merged because
// the Messages API requires alternating turns.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	system, rest := splitSystem(messages)

	var result []anthropicMessage
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content += "\n\n" + m.Content
			continue
		}
		result = append(result, anthropicMessage{Role: role, Content: m.Content})
	}
	return result, system
}
