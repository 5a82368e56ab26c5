// Kestrel - Risk scoring and step-up verification for payments.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"github.com/opensource-finance/kestrel/internal/service"
	"github.com/opensource-finance/kestrel/internal/sweep"
	"github.com/opensource-finance/kestrel/internal/velocity"
	"github.com/opensource-finance/kestrel/internal/verify"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize Velocity Service
	velocitySvc := velocity.NewService(repo, cacheImpl)
	slog.Info("velocity service initialized")

	// Initialize Scoring Engine with velocity getter
	engine, err := scoring.NewEngine(cfg.Scoring, velocitySvc.GetVelocityGetter())
	if err != nil {
		slog.Error("failed to initialize scoring engine", "error", err)
		os.Exit(1)
	}
	slog.Info("scoring engine initialized", "home_country", cfg.Scoring.HomeCountry)

	// Initialize Verification Session Machine
	machine := verify.NewMachine(verify.NewMemoryStore(), repo, nil)
	slog.Info("verification machine initialized")

	// Initialize Orchestration Service
	svc := service.New(engine, machine, repo, busImpl, velocitySvc, cfg.Scoring)

	// Load custom risk factors from database (no hardcoded defaults -
	// configure via POST /factors API)
	loadFactorsFromDatabase(ctx, svc)

	// Initialize async Worker (Pro tier)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("KESTREL_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started")
		}
	}

	// Initialize session expiry sweeper
	sweeper := sweep.NewSweeper(svc, time.Duration(cfg.Sweep.IntervalSecs)*time.Second)
	sweeper.Start()

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop background components first
	sweeper.Stop()
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// loadFactorsFromDatabase loads enabled risk factors into the engine.
// All factors must be configured via POST /factors API - no hardcoded defaults.
func loadFactorsFromDatabase(ctx context.Context, svc *service.Service) {
	if err := svc.ReloadRiskFactors(ctx); err != nil {
		slog.Warn("failed to load risk factors from database", "error", err)
		return // Start with empty factors - they can be added via API
	}

	if count := len(svc.ListRiskFactors()); count > 0 {
		slog.Info("loaded risk factors from database", "count", count)
	} else {
		slog.Info("no risk factors in database - configure via POST /factors API")
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║   Risk Scoring & Adaptive Verification    ║")
	fmt.Println("  ║       Hover. Watch. Strike first.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions                        - Evaluate a transaction")
	fmt.Println("    GET  /transactions/{id}                   - Get transaction by ID")
	fmt.Println("    GET  /verification/requirements?score=N   - Resolve step-up policy")
	fmt.Println("    GET  /verification/sessions/{id}          - Get verification session")
	fmt.Println("    POST /verification/sessions/{id}/steps    - Submit a verification step")
	fmt.Println("    POST /verification/sessions/{id}/cancel   - Cancel a session")
	fmt.Println("    GET  /verification/sessions/{id}/progress - Session progress")
	fmt.Println("    GET  /verification/attempts               - Verification audit log")
	fmt.Println("    GET  /factors                             - List custom risk factors")
	fmt.Println("    POST /factors                             - Create a risk factor")
	fmt.Println("    POST /factors/reload                      - Hot-reload factors")
	fmt.Println("    GET  /health                              - Health check")
	fmt.Println()
}
