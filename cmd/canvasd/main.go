// Canvasd is a conversational business-planning assistant.
//
// It exposes an HTTP API where authenticated users chat with a model
// that assembles a business model canvas through tool calls.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	canvasd serve            Start the API server
//	canvasd init [dir]       Initialize a working directory with defaults
//	canvasd version          Print version and build information
//	canvasd -o json version  Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/oxleyk/canvas-agent/internal/agent"
	"github.com/oxleyk/canvas-agent/internal/api"
	"github.com/oxleyk/canvas-agent/internal/auth"
	"github.com/oxleyk/canvas-agent/internal/buildinfo"
	"github.com/oxleyk/canvas-agent/internal/canvas"
	"github.com/oxleyk/canvas-agent/internal/chat"
	"github.com/oxleyk/canvas-agent/internal/config"
	"github.com/oxleyk/canvas-agent/internal/llm"
	"github.com/oxleyk/canvas-agent/internal/search"
	"github.com/oxleyk/canvas-agent/internal/tools"
	"github.com/oxleyk/canvas-agent/internal/webfetch"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the canvasd command. All OS-level
// dependencies are injected as parameters so that the full lifecycle
// can be driven from tests. Arguments are parsed by hand: the flag
// package relies on package-level globals, and our argument surface is
// small enough that manual parsing is clearer than a CLI framework.
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

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.RuntimeInfo()
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

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "canvasd - Conversational Business Planning Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: canvasd [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./canvasd.yaml, ~/.config/canvasd/config.yaml, /etc/canvasd/config.yaml")
	return nil
}

// defaultConfigYAML is written by `canvasd init`. Secrets reference
// environment variables so the file can be committed safely.
const defaultConfigYAML = `# canvasd configuration
listen:
  address: ""
  port: 8080
  # public_url: https://canvas.example.com

model:
  name: anthropic/claude-sonnet-4.5
  base_url: https://openrouter.ai/api/v1
  api_key: ${OPENROUTER_API_KEY}
  max_rounds: 10
  max_tokens: 4096

search:
  primary: google
  google:
    api_key: ${GOOGLE_SEARCH_API_KEY}
    cx: ${GOOGLE_SEARCH_CX}
  # searxng_url: http://localhost:8888

auth:
  secret: ${CANVASD_TOKEN_SECRET}
  token_ttl_hours: 72

data_dir: data
log_level: info
log_format: text
`

// runInit writes a starter config into dir, refusing to overwrite an
// existing one.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "canvasd.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
	}

	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write %s: %w", cfgPath, err)
	}

	fmt.Fprintf(stdout, "wrote %s\n", cfgPath)
	fmt.Fprintln(stdout, "set OPENROUTER_API_KEY and CANVASD_TOKEN_SECRET, then run: canvasd serve")
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting canvasd", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial Info-level text logger covers only the startup
	// banner and config discovery.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			parsed, err := config.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			level = parsed
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Model.Name,
	)

	if cfg.Model.APIKey == "" {
		return fmt.Errorf("model.api_key is required")
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}

	// All persistent state lives in one SQLite database under data_dir.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "canvasd.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer db.Close()

	canvases, err := canvas.NewStore(db)
	if err != nil {
		return fmt.Errorf("canvas store: %w", err)
	}
	sessions, err := chat.NewStore(db)
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	users, err := auth.NewStore(db)
	if err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	logger.Info("database opened", "path", dbPath)

	issuer, err := auth.NewTokenIssuer(cfg.Auth.Secret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	client := llm.NewOpenRouterClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.MaxTokens, logger)

	// A failed ping is worth a warning, not a refusal to start: the
	// provider may recover before the first turn arrives.
	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("model provider unreachable at startup", "base_url", cfg.Model.BaseURL, "error", err)
	}
	pingCancel()

	// --- Tool registry ---
	registry := tools.NewRegistry(logger)
	tools.RegisterCanvasTools(registry, canvases, sessions, logger)

	mgr := search.NewManager(cfg.Search.Primary)
	if cfg.Search.Google.APIKey != "" && cfg.Search.Google.CX != "" {
		mgr.Register(search.NewGoogle(cfg.Search.Google.APIKey, cfg.Search.Google.CX))
	}
	if cfg.Search.SearXNGURL != "" {
		mgr.Register(search.NewSearXNG(cfg.Search.SearXNGURL))
	}
	if mgr.Configured() {
		search.RegisterTool(registry, mgr, logger)
		webfetch.RegisterTool(registry, webfetch.New(), logger)
		logger.Info("research tools enabled", "providers", mgr.Providers())
	} else {
		logger.Warn("no search provider configured, research tools disabled")
	}

	loop := agent.New(client, registry, sessions, cfg.Model.Name, cfg.Model.MaxRounds, logger)

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, cfg.Listen.PublicURL,
		loop, users, issuer, sessions, canvases, logger)

	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("canvasd stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text.
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

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
