package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type inputKind int

const (
	inputNone inputKind = iota
	inputString
	inputInt
)

// Input is the single argument a model passes to a tool: a string, an
// integer, or nothing.
type Input struct {
	kind inputKind
	s    string
	n    int64
}

// NoInput is the empty argument.
var NoInput = Input{}

// StringInput wraps a string argument.
func StringInput(s string) Input { return Input{kind: inputString, s: s} }

// IntInput wraps an integer argument.
func IntInput(n int64) Input { return Input{kind: inputInt, n: n} }

// ParseInput decodes a raw JSON value. Absent and null values are
// empty; strings and integral numbers are accepted; anything else
// is an error.
func ParseInput(raw json.RawMessage) (Input, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return NoInput, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return NoInput, err
		}
		return StringInput(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return NoInput, fmt.Errorf("input %s is not an integer", raw)
		}
		return IntInput(n), nil
	default:
		return NoInput, fmt.Errorf("input must be a string or an integer, got %s", raw)
	}
}

// IsEmpty reports whether no argument was given.
func (in Input) IsEmpty() bool { return in.kind == inputNone }

// String renders the argument as text. Integers use decimal notation.
func (in Input) String() string {
	switch in.kind {
	case inputString:
		return in.s
	case inputInt:
		return strconv.FormatInt(in.n, 10)
	default:
		return ""
	}
}

// Int64 returns the argument as an integer. A string holding a decimal
// integer is accepted.
func (in Input) Int64() (int64, bool) {
	switch in.kind {
	case inputInt:
		return in.n, true
	case inputString:
		n, err := strconv.ParseInt(strings.TrimSpace(in.s), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// MarshalJSON encodes the argument as it would appear on the wire.
func (in Input) MarshalJSON() ([]byte, error) {
	switch in.kind {
	case inputString:
		return json.Marshal(in.s)
	case inputInt:
		return []byte(strconv.FormatInt(in.n, 10)), nil
	default:
		return []byte("null"), nil
	}
}
