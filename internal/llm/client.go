package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/config"
	"github.com/Waghib/Speech-to-TODO-List/internal/httpkit"
)

// Client is the interface all providers implement.
type Client interface {
	// Chat sends the conversation and returns the model's reply.
	Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error)

	// Ping checks that the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}

// New builds the client for cfg.Provider.
func New(cfg config.ModelConfig, logger *slog.Logger) (Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGeminiClient(cfg.APIKey, cfg.BaseURL, logger), nil
	case config.ProviderAnthropic:
		return NewAnthropicClient(cfg.APIKey, cfg.BaseURL, logger), nil
	case config.ProviderOllama:
		return NewOllamaClient(cfg.BaseURL, logger), nil
	case config.ProviderOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// newHTTPClient returns the client shared by the REST providers. There
// is no overall timeout; callers bound requests with ctx.
func newHTTPClient(logger *slog.Logger) *http.Client {
	return httpkit.NewClient(
		httpkit.WithTimeout(0),
		httpkit.WithDialRetry(2, 500*time.Millisecond),
		httpkit.WithLogger(logger),
	)
}

// postJSON marshals body, POSTs it, and decodes a 200 response into out.
// Any other status becomes an *APIError.
func postJSON(ctx context.Context, hc *http.Client, logger *slog.Logger, provider, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		logger.Warn("API error", "status", resp.StatusCode, "body", errBody)
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: errBody}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// getOK issues a GET and reports any non-2xx status as an *APIError.
func getOK(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 1024)}
	}
	httpkit.DrainAndClose(resp.Body, 64<<10)
	return nil
}
