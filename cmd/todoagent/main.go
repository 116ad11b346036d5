// Todoagent is a conversational todo list assistant.
//
// It exposes a small HTTP API (GET /todos, POST /chat) and a web UI
// backed by a language model that may call one of four todo tools per
// message. Configuration is loaded from an optional YAML file
// discovered automatically (see [config.DefaultSearchPaths]), a .env
// file and environment variables.
//
// Usage:
//
//	todoagent serve              Start the API server
//	todoagent chat               Interactive terminal chat
//	todoagent ask <message>      Send a single message
//	todoagent todos              Print the todo list
//	todoagent usage              Summarize the last day of turns
//	todoagent init [dir]         Write an example config
//	todoagent version            Print version and build information
//	todoagent -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Waghib/Speech-to-TODO-List/internal/buildinfo"
	"github.com/Waghib/Speech-to-TODO-List/internal/config"
	"github.com/Waghib/Speech-to-TODO-List/internal/usage"
)

// main only builds the OS-level environment and hands off to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package's globals get in the way of calling run from parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return errors.New("usage: todoagent ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "todos":
		return runTodos(ctx, stdout, stderr, configPath, outputFmt)
	case "usage":
		return runUsage(ctx, stdout, stderr, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "todoagent - conversational todo list assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: todoagent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve           Start the API server and web UI")
	fmt.Fprintln(w, "  chat            Chat with the assistant in the terminal")
	fmt.Fprintln(w, "  ask <message>   Send a single message and print the reply")
	fmt.Fprintln(w, "  todos           Print the todo list")
	fmt.Fprintln(w, "  usage           Summarize turns and tokens from the last 24h")
	fmt.Fprintln(w, "  init [dir]      Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version         Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/todoagent/config.yaml, /etc/todoagent/config.yaml")
	fmt.Fprintln(w, "Without a config file, defaults plus .env and the environment are used.")
	return nil
}

// runAsk sends one message on a throwaway session and prints the reply.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
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

	res, err := a.loop.Process(ctx, "cli-ask", strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, res.Reply)
	return nil
}

// runTodos prints the todo list straight from the store. The model is
// not consulted, so no API key is needed.
func runTodos(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, cfg.LogFormat)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	todos, err := store.List(ctx)
	if err != nil {
		return err
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(todos)
	}
	if len(todos) == 0 {
		fmt.Fprintln(stdout, "No todos.")
		return nil
	}
	for _, t := range todos {
		fmt.Fprintf(stdout, "%4d  %s\n", t.ID, t.Text)
	}
	return nil
}

// runUsage prints the turn ledger totals for the last 24 hours.
func runUsage(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, slog.LevelWarn, cfg.LogFormat)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ledger, err := usage.NewStore(store.DB(), store.Dialect().Name)
	if err != nil {
		return err
	}
	end := time.Now()
	start := end.Add(-24 * time.Hour)
	byOutcome, err := ledger.SummaryByOutcome(ctx, start, end)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(byOutcome)
	}
	if len(byOutcome) == 0 {
		fmt.Fprintln(stdout, "No turns in the last 24h.")
		return nil
	}
	outcomes := slices.Sorted(maps.Keys(byOutcome))
	fmt.Fprintf(stdout, "%-20s %6s %10s %10s\n", "outcome", "turns", "tokens_in", "tokens_out")
	for _, o := range outcomes {
		sum := byOutcome[o]
		fmt.Fprintf(stdout, "%-20s %6d %10d %10d\n", o, sum.Turns, sum.TotalInputTokens, sum.TotalOutputTokens)
	}
	return nil
}

// newLogger creates a text or JSON slog logger at level. Every command
// builds its logger here so the TRACE level renders consistently.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig loads .env, then the YAML file at explicit or the first
// one found on the search path. Having no file at all is fine: the
// defaults and environment are enough for a .env-only deployment.
// The returned path is empty in that case. Validation is left to the
// caller because `todos` does not need a model key.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	if err != nil && !errors.Is(err, config.ErrNoConfig) {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
