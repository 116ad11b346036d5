package llm

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaClient is a client for a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	logger = logger.With("provider", "ollama")
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(logger),
		logger:     logger,
	}
}

type ollamaRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	Format   string    `json:"format,omitempty"`
}

type ollamaResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
}

// Chat sends a non-streaming /api/chat request constrained to JSON output.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    model,
		Messages: messages,
		Format:   "json",
	}

	start := time.Now()
	var resp ollamaResponse
	if err := postJSON(ctx, c.httpClient, c.logger, "ollama", c.baseURL+"/api/chat", nil, req, &resp); err != nil {
		return nil, err
	}

	result := &ChatResponse{
		Model:        resp.Model,
		Message:      Message{Role: RoleAssistant, Content: resp.Message.Content},
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
		Elapsed:      time.Since(start),
	}
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"total_duration", time.Duration(resp.TotalDuration),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	return getOK(ctx, c.httpClient, "ollama", c.baseURL+"/api/tags", nil)
}
