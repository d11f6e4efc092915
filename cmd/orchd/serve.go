package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/config"
	"github.com/fyrsmithlabs/orchd/internal/decomposer"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/embeddings"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/gate"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/healer"
	"github.com/fyrsmithlabs/orchd/internal/logging"
	"github.com/fyrsmithlabs/orchd/internal/matcher"
	"github.com/fyrsmithlabs/orchd/internal/memory"
	"github.com/fyrsmithlabs/orchd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
	"github.com/fyrsmithlabs/orchd/internal/services"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

var (
	configPath string
	runnerCmd  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestration daemon",
	Long: `Start the orchd daemon.

The daemon loads configuration from the config file and environment,
connects the event bus, and runs the orchestration loop until SIGINT or
SIGTERM.

Examples:
  # Start with defaults
  orchd serve --runner-cmd ./agent-runner.sh

  # Explicit config file
  orchd serve --config /etc/orchd/config.yaml`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "config file path (default ~/.config/orchd/config.yaml)")
	serveCmd.Flags().StringVar(&runnerCmd, "runner-cmd", "", "command invoked per task attempt (overrides executor.runner_command)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	return serve(ctx)
}

// serve initializes all services and blocks until ctx is cancelled.
func serve(ctx context.Context) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if runnerCmd != "" {
		cfg.Executor.RunnerCommand = runnerCmd
	}
	if cfg.Executor.RunnerCommand == "" {
		return fmt.Errorf("no runner command configured: set executor.runner_command or --runner-cmd")
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // best-effort on shutdown
	}()

	logger.Info(ctx, "starting orchd",
		zap.String("version", version),
		zap.Int("workers", cfg.Executor.Workers),
		zap.Bool("events_enabled", cfg.Events.Enabled),
		zap.Bool("metrics_enabled", cfg.Metrics.Enabled))

	reg, err := initServices(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer func() {
		_ = reg.Bus().Close()
	}()

	orch, err := orchestrator.New(orchestrator.Deps{
		Goals:        reg.Goals(),
		Deliverables: reg.Deliverables(),
		Directory:    reg.Directory(),
		Scheduler:    reg.Scheduler(),
		Executor:     reg.Executor(),
		Matcher:      reg.Matcher(),
		Decomposer:   reg.Decomposer(),
		Monitor:      reg.Healer(),
		Memories:     reg.Memory(),
	}, logger, cfg.Executor)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if err := reg.Memory().Start(); err != nil {
		return fmt.Errorf("failed to start memory sweeper: %w", err)
	}
	defer reg.Memory().Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(ctx, cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	orch.Start(ctx)

	logger.Info(ctx, "orchd running",
		zap.String("metrics_addr", cfg.Metrics.Addr))

	<-ctx.Done()

	logger.Info(ctx, "shutting down")
	orch.Stop()
	return nil
}

// initServices wires the full service stack and returns the registry.
func initServices(cfg *config.Config, logger *logging.Logger) (services.Registry, error) {
	zl := logger.Underlying()

	var bus events.Bus
	if cfg.Events.Enabled {
		nb, err := events.NewNATSBus(events.NATSConfig{
			URL:           cfg.Events.URL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			MaxReconnects: cfg.Events.MaxReconnects,
			ReconnectWait: cfg.Events.ReconnectWait.Duration(),
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event bus: %w", err)
		}
		bus = nb
	} else {
		bus = events.NoopBus{}
	}

	provider, err := embeddings.NewProvider(embeddings.Config{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:     cfg.VectorStore.Path,
		Compress: cfg.VectorStore.Compress,
	}, provider, zl)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	memories, err := memory.NewService(store, memory.Config{
		DefaultTTL:    cfg.Memory.DefaultTTL.Duration(),
		SweepInterval: cfg.Memory.SweepInterval.Duration(),
	}, zl)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create memory service: %w", err)
	}

	goals := goal.NewMemStore()
	deliverables := deliverable.NewMemStore()
	directory := agent.NewMemDirectory()

	sched := scheduler.New(directory, bus, logger, cfg.Scheduler)
	breakers := executor.NewBreakerSet(cfg.Breaker)
	sched.SetGate(breakers)

	g, err := gate.New(cfg.Gate, logger)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create quality gate: %w", err)
	}

	runner := newCommandRunner(cfg.Executor.RunnerCommand)
	exec := executor.New(runner, sched, directory, g, breakers, logger, cfg.Executor)

	m := matcher.New(store, goals, deliverables, bus, logger, cfg.Matcher)

	dec, err := decomposer.New(decomposer.NewRuleClassifier(), sched, goals, decomposer.Config{
		MaxAttempts: cfg.Executor.MaxAttempts,
	}, logger)
	if err != nil {
		_ = bus.Close()
		return nil, fmt.Errorf("failed to create decomposer: %w", err)
	}

	monitor := healer.New(goals, sched, directory, dec, logger, cfg.Healer)

	return services.NewRegistry(services.Options{
		Goals:        goals,
		Deliverables: deliverables,
		Directory:    directory,
		Scheduler:    sched,
		Executor:     exec,
		Matcher:      m,
		Decomposer:   dec,
		Healer:       monitor,
		Memory:       memories,
		VectorStore:  store,
		Bus:          bus,
	}), nil
}

// startMetricsServer serves Prometheus metrics and a health endpoint.
func startMetricsServer(ctx context.Context, addr string, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
