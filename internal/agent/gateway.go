package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
	"github.com/Waghib/Speech-to-TODO-List/internal/llm"
	"github.com/Waghib/Speech-to-TODO-List/internal/memory"
	"github.com/Waghib/Speech-to-TODO-List/internal/retry"
)

// DefaultRetryDelays waits 1s, 2s and 4s between the four attempts.
var DefaultRetryDelays = retry.Backoff(time.Second, 2, 0, 3)

// Usage accumulates token counts across exchanges.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

func (u *Usage) add(resp *llm.ChatResponse) {
	u.InputTokens += resp.InputTokens
	u.OutputTokens += resp.OutputTokens
}

// Gateway performs one exchange with the model against a conversation.
type Gateway struct {
	client llm.Client
	model  string
	delays []time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
	events *events.Bus
}

// NewGateway creates a gateway. delays is the wait before each retry of
// a transient failure; nil uses [DefaultRetryDelays].
func NewGateway(client llm.Client, model string, delays []time.Duration, logger *slog.Logger) *Gateway {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client: client,
		model:  model,
		delays: delays,
		logger: logger,
	}
}

// SetEventBus enables event publishing.
func (g *Gateway) SetEventBus(bus *events.Bus) {
	g.events = bus
}

// Converse appends text as a user turn, asks the model, appends the raw
// reply as a model turn, and parses it.
//
// Transient overload is retried per the gateway's delays and reported
// as [ErrServiceUnavailable] once they run out. Other provider errors
// wrap [ErrModel]. A reply that does not parse is a *ContractViolation
// and is never retried; it stays in the conversation.
func (g *Gateway) Converse(ctx context.Context, conv *memory.Conversation, text string, usage *Usage) (Message, error) {
	conv.Append(memory.RoleUser, text)
	return g.ask(ctx, conv, usage)
}

// Observe is [Gateway.Converse] for a tool result: the observation is
// sent as a user message but recorded as part of the running turn.
func (g *Gateway) Observe(ctx context.Context, conv *memory.Conversation, observation string, usage *Usage) (Message, error) {
	conv.AppendObservation(observation)
	return g.ask(ctx, conv, usage)
}

func (g *Gateway) ask(ctx context.Context, conv *memory.Conversation, usage *Usage) (Message, error) {
	messages := toLLM(conv)

	policy := retry.Policy{
		Delays:    g.delays,
		Retryable: llm.IsTransient,
		Sleep:     g.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			g.logger.Warn("model overloaded, retrying",
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			g.events.Emit(events.SourceAgent, events.KindModelRetry, eventData(ctx,
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"error", err.Error(),
			))
		},
	}

	resp, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (*llm.ChatResponse, error) {
		return g.client.Chat(ctx, g.model, messages)
	})
	if err != nil {
		return nil, classify(err)
	}
	if usage != nil {
		usage.add(resp)
	}
	g.logger.Debug("model replied",
		"tokens_in", resp.InputTokens,
		"tokens_out", resp.OutputTokens,
		"elapsed", resp.Elapsed,
	)

	raw := resp.Message.Content
	conv.Append(memory.RoleModel, raw)
	return Parse(raw)
}

// Ping checks the provider.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}

// Model returns the configured model name.
func (g *Gateway) Model() string { return g.model }

func classify(err error) error {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrServiceUnavailable, err)
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrModel, err)
	}
}

func toLLM(conv *memory.Conversation) []llm.Message {
	out := make([]llm.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		role := m.Role
		if role == memory.RoleModel {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
