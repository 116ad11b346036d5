package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

// OpenAIClient talks to the OpenAI chat completions API or any server
// that implements it.
type OpenAIClient struct {
	client openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates an OpenAI-compatible client. An empty baseURL
// uses api.openai.com.
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	logger = logger.With("provider", "openai")
	opts := []option.RequestOption{
		option.WithHTTPClient(newHTTPClient(logger)),
		// Overload retries are the caller's job.
		option.WithMaxRetries(0),
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		logger: logger,
	}
}

// Chat sends a chat completion request in JSON-object mode.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message) (*ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertToOpenAI(messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	c.logger.Debug("preparing request", "model", model, "messages", len(params.Messages))

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, convertOpenAIError(err)
	}

	result := &ChatResponse{
		Model:        completion.Model,
		Message:      Message{Role: RoleAssistant},
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
		Elapsed:      time.Since(start),
	}
	if len(completion.Choices) > 0 {
		result.Message.Content = completion.Choices[0].Message.Content
	}

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping lists models to verify reachability and credentials.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.client.Models.List(ctx)
	return convertOpenAIError(err)
}

func convertToOpenAI(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// convertOpenAIError maps SDK status errors onto *APIError so that
// [IsTransient] classifies every provider the same way.
func convertOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{Provider: "openai", StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	return err
}
