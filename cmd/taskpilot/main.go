// TaskPilot is a natural-language task assistant.
//
// It exposes a small HTTP API where authenticated users chat with a
// model that manages their todo list through tools. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	taskpilot serve              Start the API server
//	taskpilot ask <message>      Process a single message (for testing)
//	taskpilot version            Print version and build information
//	taskpilot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/buildinfo"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/httpapi"
	"github.com/taskpilot/taskpilot/internal/identity"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/observability"
	"github.com/taskpilot/taskpilot/internal/ratelimit"
	"github.com/taskpilot/taskpilot/internal/storage"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand rather
// than with the flag package, whose package-level globals interfere
// with calling run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
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
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: taskpilot ask <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "TaskPilot - Natural-Language Task Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: taskpilot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Process a single message (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/taskpilot/config.yaml, /etc/taskpilot/config.yaml")
	return nil
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// runAsk boots a minimal pipeline (in-memory stores) and processes one
// message for a synthetic user. Useful for smoke tests against a live
// model without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		// ask should work without a config file; fall back to defaults.
		cfg = config.Default()
	}

	stores := storage.InMemory()
	defer stores.Close()

	client := llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Timeout)
	limiter := ratelimit.NewPerUser(cfg.Limits.RequestsPerMin)
	defer limiter.Close()

	orch := agent.New(logger, client, cfg.Model.Name, tools.NewRegistry(stores.Tasks), stores.Convo, limiter, agentLimits(cfg), nil)

	turn, err := orch.ProcessTurn(ctx, identity.New("cli-user"), strings.Join(args, " "), 0)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, turn.Reply)
	return nil
}

// runServe is the primary operating mode: load config, open storage,
// wire the orchestrator, start the HTTP server, and block until a
// shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting TaskPilot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure once the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
		"model_url", cfg.Model.BaseURL,
	)

	stores, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer stores.Close()

	client := llm.NewOllamaClient(cfg.Model.BaseURL, cfg.Model.Timeout)
	if err := client.Ping(ctx); err != nil {
		// The model service may come up later; the turn-level retry and
		// canned fallback keep the API usable meanwhile.
		logger.Warn("model service unreachable at startup", "url", cfg.Model.BaseURL, "error", err)
	}

	limiter := ratelimit.NewPerUser(cfg.Limits.RequestsPerMin)
	defer limiter.Close()

	metrics, registry := observability.NewMetrics("taskpilot")

	orch := agent.New(logger, client, cfg.Model.Name,
		tools.NewRegistry(stores.Tasks), stores.Convo, limiter, agentLimits(cfg), metrics)

	auth := identity.NewStaticProvider(cfg.Auth.Tokens)
	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured; all API requests will be rejected")
	}

	api := httpapi.New(logger, auth, orch, stores.Convo, stores.Tasks, observability.Handler(registry))

	addr := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Model.Timeout + 30*time.Second,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("TaskPilot stopped")
	return nil
}

// newLogger standardizes slog handler configuration across subcommands.
// agentLimits maps the configured bounds onto the orchestrator's knobs.
func agentLimits(cfg *config.Config) agent.Limits {
	return agent.Limits{
		MaxMessageLen: cfg.Limits.MaxMessageLen,
		HistoryWindow: cfg.Limits.HistoryWindow,
		MaxToolRounds: cfg.Limits.MaxToolRounds,
		ModelRetries:  cfg.Model.Retries,
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used and must exist.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
