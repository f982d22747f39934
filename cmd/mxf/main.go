// MXF server — hosts agent runtimes, the event bus, the task lifecycle,
// and the HTTP/WebSocket API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/modelexchange/mxf/pkg/api"
	"github.com/modelexchange/mxf/pkg/auth"
	"github.com/modelexchange/mxf/pkg/bus"
	"github.com/modelexchange/mxf/pkg/cleanup"
	"github.com/modelexchange/mxf/pkg/config"
	"github.com/modelexchange/mxf/pkg/inference"
	"github.com/modelexchange/mxf/pkg/llm"
	"github.com/modelexchange/mxf/pkg/mcp"
	"github.com/modelexchange/mxf/pkg/memory"
	"github.com/modelexchange/mxf/pkg/prompt"
	"github.com/modelexchange/mxf/pkg/runtime"
	"github.com/modelexchange/mxf/pkg/sandbox"
	"github.com/modelexchange/mxf/pkg/session"
	"github.com/modelexchange/mxf/pkg/store"
	"github.com/modelexchange/mxf/pkg/tasks"
	"github.com/modelexchange/mxf/pkg/tools"
	"github.com/modelexchange/mxf/pkg/tools/builtin"
	"github.com/modelexchange/mxf/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	domainKey := os.Getenv(cfg.System.DomainKeyEnv)
	if domainKey == "" {
		slog.Error("Domain key is not set — no client can authenticate",
			"env", cfg.System.DomainKeyEnv)
		os.Exit(1)
	}

	slog.Info("Starting MXF",
		"version", version.Full(),
		"listen_addr", cfg.System.ListenAddr,
		"config_dir", *configDir)

	// 2. Initialize persistence
	var st store.Store
	if dbURL := os.Getenv(cfg.System.DatabaseURLEnv); dbURL != "" {
		pg, err := store.NewPostgres(ctx, dbURL, nil)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("Connected to PostgreSQL database")
	} else {
		st = store.NewInMemory()
		slog.Warn("No database configured — state will not survive restarts",
			"env", cfg.System.DatabaseURLEnv)
	}
	defer st.Close()

	// 3. Core infrastructure: auth, bus, event recorder
	authn := auth.New(domainKey, st, nil)
	b := bus.New(cfg.Bus, nil)

	recorderCtx, stopRecorder := context.WithCancel(ctx)
	recorder := bus.NewRecorder(b, st, nil)
	go recorder.Run(recorderCtx)

	// 4. Tool surface: registry, MCP federation, dispatcher
	registry := tools.NewRegistry()
	mcpMgr := mcp.NewManager(cfg.MCPServerRegistry, registry, b, nil)
	mcpMgr.StartAll(ctx)

	dispatcher := tools.NewDispatcher(registry, cfg.AgentRegistry, cfg.ChannelRegistry, mcpMgr, b, nil)

	// 5. LLM clients, one per configured provider
	llmReg := llm.NewRegistry()
	providerNames := make([]string, 0)
	for name := range cfg.LLMProviderRegistry.GetAll() {
		providerNames = append(providerNames, name)
	}
	sort.Strings(providerNames)

	defaultModel := ""
	for _, name := range providerNames {
		pcfg, err := cfg.LLMProviderRegistry.Get(name)
		if err != nil {
			continue
		}
		adapter, err := llm.NewAdapter(pcfg)
		if err != nil {
			slog.Error("Failed to initialize LLM provider", "provider", name, "error", err)
			os.Exit(1)
		}
		llmReg.Register(name, llm.NewClient(name, adapter, nil))
		if defaultModel == "" {
			defaultModel = pcfg.Model
		}
	}
	slog.Info("LLM providers initialized", "providers", providerNames)

	// 6. Domain services
	infSvc := inference.NewService(cfg.Inference, defaultModel, nil)

	var sharedWriters []string
	for id, agent := range cfg.AgentRegistry.GetAll() {
		if agent.SharedMemoryWriter {
			sharedWriters = append(sharedWriters, id)
		}
	}
	memMgr := memory.NewManager(st, cfg.ChannelRegistry, b, sharedWriters, nil)

	pool := sandbox.NewPool(ctx, cfg.Sandbox, st, nil)

	taskSvc := tasks.NewService(cfg.Tasks, st, cfg.AgentRegistry, cfg.ChannelRegistry, b, nil,
		tasks.WithTerminalHook(infSvc.EndTask))

	promptBuilder := prompt.NewBuilder(cfg.AgentRegistry, cfg.ChannelRegistry, registry, nil)

	builtinSvc := &builtin.Services{
		Bus:       b,
		Agents:    cfg.AgentRegistry,
		Channels:  cfg.ChannelRegistry,
		Memory:    memMgr,
		Inference: infSvc,
		Tasks:     taskSvc,
		Sandbox:   pool,
		Registry:  registry,
	}
	if err := builtin.RegisterAll(registry, builtinSvc); err != nil {
		slog.Error("Failed to register builtin tools", "error", err)
		os.Exit(1)
	}

	// 7. Agent runtimes
	runtimeMgr := runtime.NewManager(runtime.Deps{
		Conversation: cfg.Conversation,
		Dispatcher:   dispatcher,
		Registry:     registry,
		Channels:     cfg.ChannelRegistry,
		Inference:    infSvc,
		Prompt:       promptBuilder,
		Bus:          b,
		Memory:       memMgr,
		Tasks:        taskSvc,
		Activity:     mcpMgr,
	}, cfg.AgentRegistry, taskSvc, infSvc, nil)
	runtimeMgr.SetInfererFor(func(ac *config.AgentConfig) runtime.Inferer {
		client, err := llmReg.Get(ac.LLMProvider)
		if err != nil {
			slog.Error("Agent references unregistered LLM provider",
				"provider", ac.LLMProvider, "error", err)
			return nil
		}
		return client
	})

	// Presence and phase wiring closes the runtime ↔ services cycle.
	taskSvc.SetPresence(runtimeMgr)
	builtinSvc.PhaseOf = runtimeMgr.PhaseOf

	if err := runtimeMgr.Start(ctx); err != nil {
		slog.Error("Failed to start agent runtimes", "error", err)
		os.Exit(1)
	}

	// 8. Background maintenance
	sweeperCtx, stopSweepers := context.WithCancel(ctx)
	go taskSvc.RunOrphanSweeper(sweeperCtx, time.Minute)

	cleanupSvc := cleanup.NewService(cfg.System.Retention, st, st)
	cleanupSvc.Start(ctx)

	// 9. HTTP/WebSocket server
	sessions := session.NewManager()
	httpServer := api.NewServer(cfg, authn, sessions, st, b, taskSvc,
		runtimeMgr, mcpMgr, pool, registry, infSvc, nil)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.System.ListenAddr)
		if err := httpServer.Start(cfg.System.ListenAddr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("MXF started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop the cognitive loops first so no new tool
	// calls or emits race the teardown of the infrastructure beneath them.
	runtimeMgr.Close()
	stopSweepers()
	cleanupSvc.Stop()
	mcpMgr.Close()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	stopRecorder()
	b.Close()

	slog.Info("Shutdown complete")
}
