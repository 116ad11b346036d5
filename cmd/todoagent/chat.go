package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/Waghib/Speech-to-TODO-List/internal/agent"
)

// turnRunner is the part of [agent.Loop] the REPL drives.
type turnRunner interface {
	Process(ctx context.Context, sessionID, text string) (*agent.Result, error)
	Reset(ctx context.Context, sessionID string) error
}

// lineReader yields one line of user input per call.
type lineReader interface {
	ReadLine() (string, error)
}

// runChat starts an interactive session on stdin. On a terminal the
// line is edited in raw mode with a ">> " prompt; piped input is read
// line by line without one.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(stderr, slog.LevelWarn, cfg.LogFormat)

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var lines lineReader
	out := stdout
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, stdout}, ">> ")
		lines = &terminalReader{fd: int(f.Fd()), t: t}
		out = t
	} else {
		lines = &scannerReader{s: bufio.NewScanner(stdin)}
	}

	fmt.Fprintln(out, "Todo assistant. Type 'exit' to quit, '/reset' to start over.")
	return chatLoop(ctx, lines, out, a.loop, "cli-"+uuid.NewString())
}

// chatLoop reads messages until EOF or "exit" and prints each reply.
// Turn failures are reported and the loop continues.
func chatLoop(ctx context.Context, lines lineReader, out io.Writer, runner turnRunner, session string) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := lines.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)

		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset":
			if err := runner.Reset(ctx, session); err != nil {
				fmt.Fprintf(out, "Reset failed: %v\n", err)
			} else {
				fmt.Fprintln(out, "Conversation cleared.")
			}
			continue
		}

		res, err := runner.Process(ctx, session, line)
		if err != nil {
			fmt.Fprintln(out, chatFailure(err))
			continue
		}
		fmt.Fprintln(out, res.Reply)
	}
}

// chatFailure turns a failed turn into a line for the user.
func chatFailure(err error) string {
	var cv *agent.ContractViolation
	switch {
	case errors.As(err, &cv):
		return "Received invalid response from AI. Please try again."
	case errors.Is(err, agent.ErrServiceUnavailable):
		return "AI service temporarily unavailable. Please try again in a few moments."
	default:
		return "Error: " + err.Error()
	}
}

// terminalReader reads one line at a time in raw mode, restoring the
// terminal between lines so replies print normally.
type terminalReader struct {
	fd int
	t  *term.Terminal
}

func (r *terminalReader) ReadLine() (string, error) {
	oldState, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	if width, height, err := term.GetSize(r.fd); err == nil {
		r.t.SetSize(width, height)
	}

	line, err := r.t.ReadLine()
	if restoreErr := term.Restore(r.fd, oldState); restoreErr != nil && err == nil {
		err = fmt.Errorf("restore terminal: %w", restoreErr)
	}
	return line, err
}

type scannerReader struct {
	s *bufio.Scanner
}

func (r *scannerReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
