// Command secondbrain runs the conversational assistant backend: a
// WebSocket/HTTP server that drives the orchestration engine, plus a
// one-shot chat mode and config helpers for local development.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/bus"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/config"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/gateway"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/llm"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/memory"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/metrics"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/orchestrator"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/postproc"
	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/server"
)

const version = "0.3.0"

var (
	configPath string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "secondbrain",
		Short: "Personal assistant backend",
		Long: `secondbrain is a conversational assistant backend.

It assembles per-user context from a local memory store, drives a
tool-calling loop against a configured LLM provider, retries degraded
responses, and serves conversations over HTTP and WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loadEnvFile()
			return initLogging()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.secondbrain/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING SETUP
// ═══════════════════════════════════════════════════════════════════════════════

// initLogging configures the global logger with a timestamped file under
// ~/.secondbrain/logs and redirects zerolog (used by the memory store) to
// the same directory so nothing stray hits stdout.
func initLogging() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}

	logDir := filepath.Join(home, ".secondbrain", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")

	var cfg *logging.Config
	if verbose {
		cfg = logging.VerboseConfig()
	} else {
		cfg = logging.DefaultConfig()
	}
	cfg.FilePath = filepath.Join(logDir, fmt.Sprintf("secondbrain_%s.log", timestamp))

	logging.SetGlobal(logging.New(cfg))

	zerologPath := filepath.Join(logDir, fmt.Sprintf("secondbrain_zerolog_%s.log", timestamp))
	zerologFile, err := os.OpenFile(zerologPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		logging.Global().Warn("Failed to redirect zerolog: %v", err)
		return nil
	}

	zerologWriter := zerolog.ConsoleWriter{Out: zerologFile, NoColor: true}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	fileLogger := zerolog.New(zerologWriter).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &fileLogger
	zlog.Logger = fileLogger

	return nil
}

// loadEnvFile loads KEY=VALUE pairs from ~/.secondbrain/.env into the
// process environment. Existing variables win.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	f, err := os.Open(filepath.Join(home, ".secondbrain", ".env"))
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		os.Setenv(key, value)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// WIRING
// ═══════════════════════════════════════════════════════════════════════════════

// app holds the wired components for the serve and chat commands.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	store     *memory.Store
	events    *bus.Bus
	queue     *postproc.Queue
	driver    *orchestrator.Driver
	collector *metrics.Collector
	shutdown  []func()
}

// buildApp loads config and wires the full stack: SQLite memory store,
// context cache, provider resolver, tool gateway, event bus, post-processing
// queue, and the orchestration driver.
func buildApp() (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.Memory.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open memory database: %w", err)
	}

	store, err := memory.NewStore(db, memory.DefaultConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize memory store: %w", err)
	}

	cache := memory.NewContextCache(cfg.Memory.CacheTTL())
	resolver := llm.NewResolver(cfg)

	gw := gateway.New(cfg.Orchestrator.ToolTimeout())
	gw.Register(gateway.NewRecallTool(store, cfg.Context.ExcerptLimit))
	gw.Register(gateway.NewRememberFactTool(store))
	if apiKey := os.Getenv("TAVILY_API_KEY"); apiKey != "" {
		gw.Register(gateway.NewWebSearchTool(apiKey))
	} else {
		logging.Global().Info("TAVILY_API_KEY not set, web_search tool disabled")
	}

	events := bus.New()
	queue := postproc.NewQueue(store, events,
		cfg.Postproc.Workers, cfg.Postproc.QueueSize, cfg.Postproc.JobTimeout())

	assembler := orchestrator.NewAssembler(store, cache, cfg.Context, cfg.Context.FetchTimeout())
	driver := orchestrator.NewDriver(resolver, assembler, gw, events, queue, cfg.Orchestrator)

	collector := metrics.NewCollector(events)
	collector.Start()

	a := &app{
		cfg:       cfg,
		db:        db,
		store:     store,
		events:    events,
		queue:     queue,
		driver:    driver,
		collector: collector,
	}
	a.shutdown = []func(){
		queue.Close,
		collector.Stop,
		func() { events.Close() },
		func() { db.Close() },
	}
	return a, nil
}

// close tears down components in order: drain the queue, close the bus,
// then the database.
func (a *app) close() {
	for _, fn := range a.shutdown {
		fn()
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant server",
		Long: `Run the HTTP/WebSocket server.

Endpoints:
  POST /api/v1/chat    one-shot conversation turn
  GET  /api/v1/health  health check
  GET  /api/v1/stats   session counters
  GET  /ws             WebSocket conversation session with live events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			if host != "" {
				a.cfg.Server.Host = host
			}
			if port != 0 {
				a.cfg.Server.Port = port
			}

			srv := server.New(a.cfg.Server, a.driver, a.events)
			srv.SetStatsSource(a.collector)

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("secondbrain %s listening on %s:%d\n",
				version, a.cfg.Server.Host, a.cfg.Server.Port)
			fmt.Println("Press Ctrl+C to stop...")

			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			fmt.Println("\nShutting down...")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides config)")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CHAT COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func chatCmd() *cobra.Command {
	var userID string
	var conversationID string
	var showJSON bool

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run a single conversation turn",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			result, err := a.driver.Orchestrate(ctx, &orchestrator.ChatRequest{
				UserID:         userID,
				ConversationID: conversationID,
				Message:        strings.Join(args, " "),
			})
			if err != nil {
				return fmt.Errorf("turn failed: %w", err)
			}

			if showJSON {
				out, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			fmt.Println(result.Response)
			if result.Degraded {
				fmt.Fprintln(os.Stderr, "(degraded response)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "local", "user ID for provider and memory lookup")
	cmd.Flags().StringVar(&conversationID, "conversation", "cli", "conversation ID")
	cmd.Flags().BoolVar(&showJSON, "json", false, "print the full result as JSON")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			var err error
			if configPath != "" {
				cfg, err = config.LoadFromPath(configPath)
			} else {
				cfg, err = config.Load()
			}
			if err != nil {
				return err
			}

			// API keys stay out of terminal scrollback.
			for name, p := range cfg.LLM.Providers {
				if p.APIKey != "" {
					p.APIKey = "***"
					cfg.LLM.Providers[name] = p
				}
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				path = filepath.Join(home, ".secondbrain", "config.yaml")
			}

			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}

			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Printf("Wrote default config to %s\n", path)
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// VERSION
// ═══════════════════════════════════════════════════════════════════════════════

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("secondbrain v%s\n", version)
		},
	}
}
