package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialcore/dialcore/internal/api"
	"github.com/dialcore/dialcore/internal/bus"
	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/config"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/database/models"
	"github.com/dialcore/dialcore/internal/database/pgrecords"
	"github.com/dialcore/dialcore/internal/flow"
	"github.com/dialcore/dialcore/internal/metrics"
	"github.com/dialcore/dialcore/internal/routing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting dialcore",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
	)

	// Open database and run migrations.
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	numbers := database.NewVirtualNumberRepository(db)
	agents := database.NewAgentRepository(db)
	flows := database.NewIVRFlowRepository(db)
	records := database.NewCallRecordRepository(db)

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// Event bus and session manager.
	eventBus := bus.New(cfg.EventBuffer, logger)
	manager := call.NewManager(records, bus.NewSessionSink(eventBus), cfg.RingTimeoutDuration(), logger)

	// Routing and IVR.
	resolver := routing.NewResolver(&repoDirectory{numbers: numbers, agents: agents, flows: flows}, logger)
	engine := flow.NewEngine(&repoFlowSource{flows: flows}, manager, resolver, logger)
	manager.OnTerminal(engine.Release)

	// Optional PostgreSQL archive of terminal call records.
	if cfg.PostgresDSN != "" {
		archive, err := pgrecords.New(cfg.PostgresDSN, logger)
		if err != nil {
			slog.Error("failed to open postgresql archive", "error", err)
			os.Exit(1)
		}
		defer archive.Close()
		go archive.Run(appCtx, eventBus.Subscribe())
	}

	// Prometheus registry with the scrape-time collector.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(manager, engine, eventBus, records, agents, time.Now()),
	)

	handler := api.NewServer(api.Deps{
		Config:   cfg,
		Manager:  manager,
		Engine:   engine,
		Resolver: resolver,
		Bus:      eventBus,
		Numbers:  numbers,
		Agents:   agents,
		Flows:    flows,
		Records:  records,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down server")
	appCancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("dialcore stopped")
}

// repoDirectory bridges the database repositories with the routing
// resolver's directory interface.
type repoDirectory struct {
	numbers database.VirtualNumberRepository
	agents  database.AgentRepository
	flows   database.IVRFlowRepository
}

func (d *repoDirectory) GetVirtualNumberByNumber(ctx context.Context, number string) (*models.VirtualNumber, error) {
	return d.numbers.GetByNumber(ctx, number)
}

func (d *repoDirectory) GetAgentByAgentID(ctx context.Context, agentID string) (*models.Agent, error) {
	return d.agents.GetByAgentID(ctx, agentID)
}

func (d *repoDirectory) GetIVRFlowByFlowID(ctx context.Context, flowID string) (*models.IVRFlow, error) {
	return d.flows.GetByFlowID(ctx, flowID)
}

// repoFlowSource bridges the IVR flow repository with the engine's flow
// source interface, exposing only the stored definition JSON.
type repoFlowSource struct {
	flows database.IVRFlowRepository
}

func (s *repoFlowSource) GetFlowDefinition(ctx context.Context, id string) (string, error) {
	f, err := s.flows.GetByFlowID(ctx, id)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", nil
	}
	return f.Definition, nil
}
