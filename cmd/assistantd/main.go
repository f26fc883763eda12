// Command assistantd is the composition root for the self-hosted
// personal AI assistant's server-side core: it reads configuration,
// wires the Conversation Engine and Job Scheduler together, and serves
// the HTTP/SSE binding over them until signaled to stop.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/agent"
	"github.com/nugget/selfhosted-assistant/internal/buildinfo"
	"github.com/nugget/selfhosted-assistant/internal/config"
	"github.com/nugget/selfhosted-assistant/internal/directions"
	"github.com/nugget/selfhosted-assistant/internal/embeddings"
	"github.com/nugget/selfhosted-assistant/internal/events"
	"github.com/nugget/selfhosted-assistant/internal/fetch"
	"github.com/nugget/selfhosted-assistant/internal/httpapi"
	"github.com/nugget/selfhosted-assistant/internal/llm"
	"github.com/nugget/selfhosted-assistant/internal/memory"
	"github.com/nugget/selfhosted-assistant/internal/notify"
	"github.com/nugget/selfhosted-assistant/internal/scheduler"
	"github.com/nugget/selfhosted-assistant/internal/skills"
	"github.com/nugget/selfhosted-assistant/internal/store"
	"github.com/nugget/selfhosted-assistant/internal/thread"
	"github.com/nugget/selfhosted-assistant/internal/titling"
	"github.com/nugget/selfhosted-assistant/internal/tools"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx controls process lifetime; stdout
// receives structured logs. args is os.Args[1:], parsed by hand since
// command-line parsing sophistication is out of scope (§1) — the only
// flag recognized is -config.
func run(ctx context.Context, stdout io.Writer, args []string) error {
	var configPath string
	for i, a := range args {
		switch {
		case a == "-config" && i+1 < len(args):
			configPath = args[i+1]
		case strings.HasPrefix(a, "-config="):
			configPath = strings.TrimPrefix(a, "-config=")
		}
	}

	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting assistantd", "version", buildinfo.Version, "commit", buildinfo.GitCommit)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, level)
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "chat_model", cfg.LM.ChatModel)

	st, err := store.Open(ctx, cfg.Database.Address, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	bus := events.New()

	embedder := embeddings.New(embeddings.Config{
		BaseURL: cfg.LM.EmbeddingsURL,
		APIKey:  cfg.LM.ProviderKey,
		Model:   cfg.LM.EmbeddingModel,
	})
	memorySvc := memory.New(st, embedder, logger)

	notifier := notify.New(notify.Config{
		Endpoint: cfg.Push.Address,
		Token:    cfg.Push.Channel,
	}, logger)

	directionsClient := directions.New(directions.Config{APIKey: cfg.Directions.APIKey}, logger)

	llmClient := llm.NewAnthropicClient(cfg.LM.ProviderKey, logger)

	threads := thread.New(st, logger)

	skillRegistry := skills.NewRegistry()
	if directionsClient.Configured() {
		skillRegistry.Register(skills.NewDepartureCheck(directionsClient, notifier, logger))
	}

	toolRegistry := tools.NewRegistry(logger)
	tools.RegisterBuiltins(toolRegistry, tools.BuiltinDeps{
		Memory:     memorySvc,
		Directions: directionsClient,
		Notifier:   notifier,
		Fetcher:    fetch.New(),
		Jobs:       st,
		Skills:     skillRegistry,
	})

	contextProvider := agent.NewCompositeContextProvider(memorySvc, agent.NewChannelProvider())
	agentSvc := agent.New(threads, llmClient, toolRegistry, bus, contextProvider, agent.Config{
		ModelName:     cfg.LM.ChatModel,
		MaxIterations: cfg.Agent.MaxIterations,
	}, logger)

	sched := scheduler.New(scheduler.Config{
		Store:    st,
		Threads:  threads,
		Agent:    agentSvc,
		Skills:   skillRegistry,
		Notifier: notifier,
		AppURL:   cfg.AppURL,
	}, logger)

	titler := titling.New(threads, llmClient, bus, cfg.LM.ChatModel, logger)

	api := httpapi.New(httpapi.Config{
		Bus:     bus,
		Threads: threads,
		Memory:  memorySvc,
		Jobs:    st,
		Agent:   agentSvc,
		Skills:  skillRegistry,
	}, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port),
		Handler: api.Router(),
	}

	runCtx, stopTitler := context.WithCancel(ctx)
	defer stopTitler()
	go titler.Run(runCtx)

	sched.Start(runCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	sigCtx, cancelSig := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancelSig()

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	// Shutdown ordering per the composition root's contract: stop
	// accepting new requests, then stop the scheduler (cancelling
	// in-flight skill runs), then close the storage pool via the
	// deferred st.Close() above.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}

	stopTitler()
	sched.Stop()

	logger.Info("assistantd stopped")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
