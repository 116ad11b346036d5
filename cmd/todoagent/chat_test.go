package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Waghib/Speech-to-TODO-List/internal/agent"
)

type fakeRunner struct {
	replies map[string]string
	errs    map[string]error
	seen    []string
	resets  int
}

func (f *fakeRunner) Process(_ context.Context, session, text string) (*agent.Result, error) {
	f.seen = append(f.seen, session+":"+text)
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	return &agent.Result{Reply: f.replies[text], SessionID: session}, nil
}

func (f *fakeRunner) Reset(context.Context, string) error {
	f.resets++
	return nil
}

func TestChatLoop(t *testing.T) {
	runner := &fakeRunner{
		replies: map[string]string{"add milk": "Added 'milk'."},
		errs: map[string]error{
			"garbled": &agent.ContractViolation{Raw: "oops", Reason: "not JSON"},
			"busy":    fmt.Errorf("%w: overloaded", agent.ErrServiceUnavailable),
			"broken":  errors.New("boom"),
		},
	}
	input := "add milk\n\n  \ngarbled\nbusy\nbroken\n/reset\nexit\nnever read\n"

	var out bytes.Buffer
	err := chatLoop(context.Background(), &scannerReader{s: newScanner(input)}, &out, runner, "cli-1")
	if err != nil {
		t.Fatalf("chatLoop: %v", err)
	}

	want := []string{
		"Added 'milk'.",
		"Received invalid response from AI. Please try again.",
		"AI service temporarily unavailable. Please try again in a few moments.",
		"Error: boom",
		"Conversation cleared.",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("output:\n%s\nwant:\n%s", out.String(), strings.Join(want, "\n"))
	}
	if len(runner.seen) != 4 || runner.seen[0] != "cli-1:add milk" {
		t.Errorf("turns = %v", runner.seen)
	}
	if runner.resets != 1 {
		t.Errorf("resets = %d, want 1", runner.resets)
	}
}

func TestChatLoop_EOF(t *testing.T) {
	runner := &fakeRunner{replies: map[string]string{"hi": "hello"}}
	var out bytes.Buffer
	if err := chatLoop(context.Background(), &scannerReader{s: newScanner("hi")}, &out, runner, "s"); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if strings.TrimSpace(out.String()) != "hello" {
		t.Errorf("output = %q", out.String())
	}
}

func TestChatLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner := &fakeRunner{}
	if err := chatLoop(ctx, &scannerReader{s: newScanner("hi\n")}, &bytes.Buffer{}, runner, "s"); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(runner.seen) != 0 {
		t.Errorf("processed %v after cancel", runner.seen)
	}
}

func newScanner(s string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(s))
}
