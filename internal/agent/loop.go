// Package agent runs the conversational turn: user text goes to the
// model, an optional single tool call is dispatched and its result fed
// back, and the model's final answer is returned.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Waghib/Speech-to-TODO-List/internal/events"
	"github.com/Waghib/Speech-to-TODO-List/internal/memory"
	"github.com/Waghib/Speech-to-TODO-List/internal/prompts"
	"github.com/Waghib/Speech-to-TODO-List/internal/tools"
)

// DefaultSession is used when the caller names no session.
const DefaultSession = "default"

// Config tunes the loop.
type Config struct {
	// TurnTimeout bounds a whole turn, lock wait and retries included.
	// Zero means no limit beyond the caller's context.
	TurnTimeout time.Duration

	// RollbackFailedTurns discards what a failed turn appended to the
	// conversation. When false the partial turn stays in history.
	RollbackFailedTurns bool
}

// Result is the outcome of a successful turn.
type Result struct {
	Reply     string `json:"reply"`
	SessionID string `json:"session_id"`
	// Action is the tool that ran, or empty for a direct answer.
	Action    string `json:"action,omitempty"`
	Exchanges int    `json:"exchanges"`
	Usage     Usage  `json:"-"`
}

// Loop is the agent turn state machine.
type Loop struct {
	logger  *slog.Logger
	gateway *Gateway
	tools   *tools.Registry
	memory  memory.Store
	system  string
	config  Config
	locks   sessionLocks
	events  *events.Bus
}

// NewLoop creates a loop. The system preamble is generated from the
// registry's tools.
func NewLoop(logger *slog.Logger, gw *Gateway, reg *tools.Registry, mem memory.Store, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:  logger,
		gateway: gw,
		tools:   reg,
		memory:  mem,
		system:  prompts.SystemPrompt(reg.List()),
		config:  cfg,
	}
}

// SetEventBus enables event publishing for the loop and its gateway.
func (l *Loop) SetEventBus(bus *events.Bus) {
	l.events = bus
	l.gateway.SetEventBus(bus)
}

// Process runs one turn for the session. Turns for the same session
// are serialised; different sessions run concurrently.
//
// Errors are *ContractViolation, *todo.StoreError, or wrap
// [ErrServiceUnavailable] or [ErrModel].
func (l *Loop) Process(ctx context.Context, sessionID, text string) (*Result, error) {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	turnID := uuid.NewString()
	ctx = withTurn(ctx, sessionID, turnID)
	if l.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.config.TurnTimeout)
		defer cancel()
	}

	log := l.logger.With("session", sessionID, "turn", turnID[:8])
	start := time.Now()

	release, err := l.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, classify(fmt.Errorf("wait for session: %w", err))
	}
	defer release()

	conv, err := l.memory.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if conv == nil {
		conv = memory.NewConversation(sessionID, l.system)
		log.Debug("new session")
	}
	before := conv.Len()

	log.Info("turn started", "text_len", len(text))
	l.events.Emit(events.SourceAgent, events.KindTurnStart, eventData(ctx))

	result := &Result{SessionID: sessionID}
	err = l.run(ctx, log, conv, text, result)

	if err != nil && l.config.RollbackFailedTurns {
		conv.Truncate(before)
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if serr := l.memory.Put(saveCtx, conv); serr != nil {
		log.Error("failed to save session", "error", serr)
		if err == nil {
			err = fmt.Errorf("save session %s: %w", sessionID, serr)
		}
	}

	elapsed := time.Since(start)
	if err != nil {
		log.Warn("turn failed", "error", err, "elapsed", elapsed)
		l.events.Emit(events.SourceAgent, events.KindTurnFailed, eventData(ctx,
			"reason", failureReason(err),
			"error", err.Error(),
			"elapsed_ms", elapsed.Milliseconds(),
		))
		return nil, err
	}

	log.Info("turn complete",
		"action", result.Action,
		"exchanges", result.Exchanges,
		"tokens_in", result.Usage.InputTokens,
		"tokens_out", result.Usage.OutputTokens,
		"elapsed", elapsed,
	)
	l.events.Emit(events.SourceAgent, events.KindTurnComplete, eventData(ctx,
		"action", result.Action,
		"exchanges", result.Exchanges,
		"tokens_in", result.Usage.InputTokens,
		"tokens_out", result.Usage.OutputTokens,
		"elapsed_ms", elapsed.Milliseconds(),
	))
	return result, nil
}

// run drives the one-hop protocol: at most one action and two exchanges.
func (l *Loop) run(ctx context.Context, log *slog.Logger, conv *memory.Conversation, text string, res *Result) error {
	msg, err := l.exchange(ctx, res, func(usage *Usage) (Message, error) {
		return l.gateway.Converse(ctx, conv, text, usage)
	})
	if err != nil {
		return err
	}

	var action Action
	switch m := msg.(type) {
	case Output:
		res.Reply = m.Text
		return nil
	case Action:
		action = m
	default:
		return fmt.Errorf("unexpected message type %T", msg)
	}

	res.Action = action.Function
	observation, err := l.dispatch(ctx, log, conv, action)
	if err != nil {
		return err
	}

	msg, err = l.exchange(ctx, res, func(usage *Usage) (Message, error) {
		return l.gateway.Observe(ctx, conv, observation, usage)
	})
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case Output:
		res.Reply = m.Text
		return nil
	case Action:
		return &ContractViolation{
			Raw:    lastModelReply(conv),
			Reason: fmt.Sprintf("second action %q after an observation; only one action is allowed per message", m.Function),
		}
	default:
		return fmt.Errorf("unexpected message type %T", msg)
	}
}

// exchange counts and reports one model call made by send.
func (l *Loop) exchange(ctx context.Context, res *Result, send func(*Usage) (Message, error)) (Message, error) {
	res.Exchanges++
	l.events.Emit(events.SourceAgent, events.KindModelCall, eventData(ctx,
		"exchange", res.Exchanges,
		"model", l.gateway.Model(),
	))
	before := res.Usage
	start := time.Now()

	msg, err := send(&res.Usage)
	if err == nil || isContractViolation(err) {
		l.events.Emit(events.SourceAgent, events.KindModelReply, eventData(ctx,
			"exchange", res.Exchanges,
			"tokens_in", res.Usage.InputTokens-before.InputTokens,
			"tokens_out", res.Usage.OutputTokens-before.OutputTokens,
			"elapsed_ms", time.Since(start).Milliseconds(),
		))
	}
	return msg, err
}

// observationMessage is the user-role turn that carries a tool result.
type observationMessage struct {
	Observation any `json:"observation"`
}

func (l *Loop) dispatch(ctx context.Context, log *slog.Logger, conv *memory.Conversation, a Action) (string, error) {
	log.Info("dispatching tool", "tool", a.Function, "input", a.Input.String())
	l.events.Emit(events.SourceAgent, events.KindToolCall, eventData(ctx, "tool", a.Function))
	start := time.Now()

	value, err := l.tools.Execute(ctx, a.Function, a.Input)

	l.events.Emit(events.SourceAgent, events.KindToolDone, eventData(ctx,
		"tool", a.Function,
		"ok", err == nil,
		"duration_ms", time.Since(start).Milliseconds(),
	))

	var unknown *tools.ErrUnknownTool
	var invalid *tools.ErrInvalidInput
	switch {
	case errors.As(err, &unknown), errors.As(err, &invalid):
		return "", &ContractViolation{Raw: lastModelReply(conv), Reason: err.Error()}
	case err != nil:
		return "", err
	}

	b, err := json.Marshal(observationMessage{Observation: value})
	if err != nil {
		return "", fmt.Errorf("encode observation: %w", err)
	}
	return string(b), nil
}

// Reset forgets a session's history, waiting for any running turn.
func (l *Loop) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = DefaultSession
	}
	release, err := l.locks.acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return l.memory.Delete(ctx, sessionID)
}

// ActiveSessions returns the number of live sessions.
func (l *Loop) ActiveSessions(ctx context.Context) (int, error) {
	return l.memory.Count(ctx)
}

// Ping checks the model provider.
func (l *Loop) Ping(ctx context.Context) error {
	return l.gateway.Ping(ctx)
}

// SystemPrompt returns the preamble that seeds new sessions.
func (l *Loop) SystemPrompt() string { return l.system }

func lastModelReply(conv *memory.Conversation) string {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == memory.RoleModel {
			return conv.Messages[i].Content
		}
	}
	return ""
}

func isContractViolation(err error) bool {
	var cv *ContractViolation
	return errors.As(err, &cv)
}

// failureReason is a short label for metrics and events.
func failureReason(err error) string {
	switch {
	case isContractViolation(err):
		return "contract_violation"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrModel):
		return "model_error"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "store_error"
	}
}
