package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com"

// GeminiClient is a client for the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a Gemini client. An empty baseURL uses the
// public endpoint.
func NewGeminiClient(apiKey, baseURL string, logger *slog.Logger) *GeminiClient {
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	logger = logger.With("provider", "gemini")
	return &GeminiClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(logger),
		logger:     logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// Chat sends the conversation to models/{model}:generateContent and asks
// for a JSON reply.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	req := convertToGemini(messages)
	req.GenerationConfig.ResponseMIMEType = "application/json"

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(req.Contents),
		"system", req.SystemInstruction != nil,
	)

	start := time.Now()
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	var resp geminiResponse
	if err := postJSON(ctx, c.httpClient, c.logger, "gemini", endpoint, c.headers(), req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		reason := "unknown"
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason = resp.PromptFeedback.BlockReason
		}
		return nil, fmt.Errorf("gemini returned no candidates (block reason: %s)", reason)
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}

	result := &ChatResponse{
		Model:        model,
		Message:      Message{Role: RoleAssistant, Content: text.String()},
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		Elapsed:      time.Since(start),
	}
	if resp.ModelVersion != "" {
		result.Model = resp.ModelVersion
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"finish_reason", resp.Candidates[0].FinishReason,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping lists a single model to verify the key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	return getOK(ctx, c.httpClient, "gemini", c.baseURL+"/v1beta/models?pageSize=1", c.headers())
}

func (c *GeminiClient) headers() map[string]string {
	return map[string]string{"x-goog-api-key": c.apiKey}
}

// convertToGemini maps system messages to systemInstruction and the
// assistant role to Gemini's "model".
func convertToGemini(messages []Message) geminiRequest {
	system, rest := splitSystem(messages)

	var req geminiRequest
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return req
}
