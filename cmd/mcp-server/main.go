// mcp-server is a demonstration Streamable HTTP Transport broker: it wires
// the Protocol Core, the server role adapter, and the Task Subsystem behind
// an HTTP listener, and registers two sample tools ("echo" and
// "delayed_echo") so the wiring can be exercised end to end. Concrete
// tool/resource/prompt business logic belongs to applications embedding this
// module; these two tools exist only to demonstrate the broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/HyphaGroup/oubliette/internal/audit"
	"github.com/HyphaGroup/oubliette/internal/auth"
	"github.com/HyphaGroup/oubliette/internal/config"
	"github.com/HyphaGroup/oubliette/internal/logger"
	"github.com/HyphaGroup/oubliette/internal/mcpserver"
	"github.com/HyphaGroup/oubliette/internal/mcptypes"
	"github.com/HyphaGroup/oubliette/internal/metrics"
	"github.com/HyphaGroup/oubliette/internal/tasks"
	"github.com/HyphaGroup/oubliette/internal/transport/streamable"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "token":
			cmdToken(os.Args[2:])
			return
		case "--version", "-v":
			fmt.Printf("mcp-server %s\n", Version)
			return
		case "--help", "-h", "help":
			printUsage()
			return
		}
	}
	runServer()
}

func printUsage() {
	fmt.Printf(`mcp-server %s - Model Context Protocol broker (Streamable HTTP Transport)

Usage: mcp-server [command] [options]

Commands:
  (default)    Start the broker
  token        Manage bearer tokens (create, list, revoke)

Server Options:
  --dir <path>         Broker home directory (default: ~/.mcpbroker)
  --addr <host:port>   Listener override (default from config)

Examples:
  mcp-server                       Start the broker (auto-detect config)
  mcp-server --dir /path/to/home   Start with a specific home directory
  mcp-server token create --name ci --scope admin
`, Version)
}

func resolveHomeDir(dirFlag string) string {
	if dirFlag != "" {
		return dirFlag
	}
	if env := os.Getenv("MCP_BROKER_HOME"); env != "" {
		return env
	}
	if _, err := os.Stat(".mcpbroker"); err == nil {
		return ".mcpbroker"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mcpbroker"
	}
	return filepath.Join(home, ".mcpbroker")
}

func runServer() {
	dirFlag := flag.String("dir", "", "Broker home directory")
	addrFlag := flag.String("addr", "", "Listener address override")
	flag.Parse()

	homeDir := resolveHomeDir(*dirFlag)
	dataDir := filepath.Join(homeDir, "data")
	configDir := filepath.Join(homeDir, "config")
	logDir := filepath.Join(dataDir, "logs")

	var cfg *config.LoadedConfig
	if _, err := os.Stat(filepath.Join(configDir, "mcpbroker.jsonc")); errors.Is(err, fs.ErrNotExist) {
		cfg = defaultConfig()
	} else {
		loaded, err := config.LoadAll(configDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *addrFlag != "" {
		cfg.Address = *addrFlag
	}

	if err := logger.InitSlog(logDir, cfg.LoggingJSON); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.CloseSlog() }()

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Slog().Error("failed to create data directory", "err", err)
		os.Exit(1)
	}

	taskMgr := tasks.NewManager(cfg.TaskReapInterval)
	defer taskMgr.Stop()

	srv := mcpserver.NewServer(mcpserver.Options{
		Implementation: mcptypes.Implementation{Name: "mcp-broker", Version: Version},
		Instructions:   "Demonstration broker exposing echo and delayed_echo sample tools.",
		TaskManager:    taskMgr,
	})
	srv.EnableTasks(true, true)
	registerSampleTools(srv)

	eventStore, err := buildEventStore(cfg)
	if err != nil {
		logger.Slog().Error("failed to build event store", "err", err)
		os.Exit(1)
	}
	if closer, ok := eventStore.(interface{ Close() error }); ok {
		defer func() { _ = closer.Close() }()
	}

	handler := streamable.NewHandler(srv, streamable.HandlerOptions{
		EventStore:     eventStore,
		SessionTTL:     cfg.SessionTTL,
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedHosts:   cfg.AllowedHosts,
	})

	mux := http.NewServeMux()
	mux.Handle("/mcp", buildMiddlewareChain(cfg, dataDir, handler))
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:         cfg.Address,
		Handler:      metrics.Middleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
	}

	logger.Slog().Info("mcp-broker starting", "addr", cfg.Address, "version", Version)

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Slog().Error("listen failed", "err", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Slog().Info("mcp-broker shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
}

func defaultConfig() *config.LoadedConfig {
	return &config.LoadedConfig{
		Address:           ":8080",
		SessionTTL:        30 * time.Minute,
		AllowedHosts:      []string{"localhost", "127.0.0.1", "::1"},
		RequestsPerSecond: 10,
		Burst:             20,
		TaskReapInterval:  30 * time.Second,
		EventsBackend:     "memory",
	}
}

func buildEventStore(cfg *config.LoadedConfig) (streamable.EventStore, error) {
	if cfg.EventsBackend == "sqlite" {
		return streamable.NewSQLiteEventStore(cfg.EventsPath)
	}
	return streamable.NewMemoryEventStore(), nil
}

func buildMiddlewareChain(cfg *config.LoadedConfig, dataDir string, next http.Handler) http.Handler {
	limiter := auth.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
	chain := auth.RateLimitMiddleware(limiter)(next)

	if !cfg.AuthEnabled {
		return chain
	}

	store, err := auth.NewStore(dataDir)
	if err != nil {
		logger.Slog().Error("failed to open auth store; continuing unauthenticated", "err", err)
		return chain
	}
	return auth.Middleware(store)(chain)
}

// registerSampleTools wires "echo" and "delayed_echo" so a fresh checkout
// can be exercised without writing an application.
func registerSampleTools(srv *mcpserver.Server) {
	type echoParams struct {
		Message string `json:"message"`
	}
	_ = mcpserver.RegisterTypedTool(srv, &mcptypes.Tool{
		Name:        "echo",
		Description: "Echoes the message argument back as text content.",
	}, func(ctx context.Context, session *mcpserver.ServerSession, params echoParams) (*mcptypes.CallToolResult, error) {
		return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent(params.Message)}}, nil
	})

	type delayedEchoParams struct {
		Message string `json:"message"`
		DelayMs int    `json:"delay"`
	}
	_ = mcpserver.RegisterTypedTool(srv, &mcptypes.Tool{
		Name:        "delayed_echo",
		Description: "Echoes the message after a delay; demonstrates task-augmented tools/call.",
		Execution:   &mcptypes.ToolExecution{TaskSupport: mcptypes.TaskSupportOptional},
	}, func(ctx context.Context, session *mcpserver.ServerSession, params delayedEchoParams) (*mcptypes.CallToolResult, error) {
		delay := time.Duration(params.DelayMs) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &mcptypes.CallToolResult{Content: []mcptypes.Content{mcptypes.TextContent(params.Message)}}, nil
	})
}

func cmdToken(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: mcp-server token <create|list|revoke> [options]")
		os.Exit(1)
	}

	fset := flag.NewFlagSet("token", flag.ExitOnError)
	dirFlag := fset.String("dir", "", "Broker home directory")
	name := fset.String("name", "", "Token name (create)")
	scope := fset.String("scope", auth.ScopeReadOnly, "Token scope: admin or read-only (create)")
	tokenID := fset.String("id", "", "Token ID (revoke)")
	_ = fset.Parse(args[1:])

	homeDir := resolveHomeDir(*dirFlag)
	dataDir := filepath.Join(homeDir, "data")
	store, err := auth.NewStore(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open auth store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	switch args[0] {
	case "create":
		if *name == "" {
			fmt.Fprintln(os.Stderr, "--name is required")
			os.Exit(1)
		}
		token, secret, err := store.CreateToken(*name, *scope, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create token: %v\n", err)
			os.Exit(1)
		}
		audit.LogSuccess(audit.OpTokenCreate, "", "")
		fmt.Printf("token id=%s scope=%s secret=%s\n", token.ID, token.Scope, secret)
	case "list":
		tokens, err := store.ListTokens()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list tokens: %v\n", err)
			os.Exit(1)
		}
		for _, t := range tokens {
			fmt.Printf("%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Scope, t.CreatedAt.Format(time.RFC3339))
		}
	case "revoke":
		if *tokenID == "" {
			fmt.Fprintln(os.Stderr, "--id is required")
			os.Exit(1)
		}
		if err := store.RevokeToken(*tokenID); err != nil {
			fmt.Fprintf(os.Stderr, "failed to revoke token: %v\n", err)
			audit.LogFailure(audit.OpTokenRevoke, "", "", err)
			os.Exit(1)
		}
		audit.LogSuccess(audit.OpTokenRevoke, "", "")
		fmt.Println("revoked")
	default:
		fmt.Fprintf(os.Stderr, "unknown token subcommand %q\n", args[0])
		os.Exit(1)
	}
}
