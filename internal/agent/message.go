package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Waghib/Speech-to-TODO-List/internal/tools"
)

// Message is a parsed model reply: either an [Action] or an [Output].
// The set is closed; switch on the concrete type.
type Message interface {
	isMessage()
}

// Action asks the agent to run a tool.
type Action struct {
	Function string
	Input    tools.Input
}

// Output is the natural-language answer for the user. It ends a turn.
type Output struct {
	Text string
}

func (Action) isMessage() {}
func (Output) isMessage() {}

// Reply types on the wire.
const (
	typeAction = "action"
	typeOutput = "output"
)

type wireMessage struct {
	Type     *string         `json:"type"`
	Function *string         `json:"function"`
	Input    json.RawMessage `json:"input"`
	Output   json.RawMessage `json:"output"`
}

// Parse decodes a raw model reply. It accepts exactly one JSON object of
// the form {"type":"action","function":...,"input":...} or
// {"type":"output","output":...}, optionally wrapped in a single
// Markdown code fence. Anything else yields a *ContractViolation.
func Parse(raw string) (Message, error) {
	msg, err := parse(raw)
	if err != nil {
		return nil, &ContractViolation{Raw: raw, Reason: err.Error()}
	}
	return msg, nil
}

func parse(raw string) (Message, error) {
	body := stripFence(raw)
	if body == "" {
		return nil, errors.New("empty reply")
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var w wireMessage
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON object")
	}
	if w.Type == nil {
		return nil, errors.New(`missing "type"`)
	}

	switch *w.Type {
	case typeAction:
		if present(w.Output) {
			return nil, errors.New(`action reply must not carry "output"`)
		}
		if w.Function == nil || *w.Function == "" {
			return nil, errors.New(`action reply is missing "function"`)
		}
		in, err := tools.ParseInput(w.Input)
		if err != nil {
			return nil, err
		}
		return Action{Function: *w.Function, Input: in}, nil

	case typeOutput:
		if w.Function != nil || present(w.Input) {
			return nil, errors.New(`output reply must not carry "function" or "input"`)
		}
		if !present(w.Output) {
			return nil, errors.New(`output reply is missing "output"`)
		}
		var text string
		if err := json.Unmarshal(w.Output, &text); err != nil {
			return nil, fmt.Errorf(`"output" must be a string: %s`, bytes.TrimSpace(w.Output))
		}
		return Output{Text: text}, nil

	default:
		return nil, fmt.Errorf("unknown reply type %q", *w.Type)
	}
}

// present reports whether a field was given a non-null value.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// stripFence trims whitespace and one surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[\"") {
		s = s[nl+1:]
	}
	return strings.TrimSpace(s)
}
