// Warden - gameplay anti-fraud decisions for the Luminex rewards platform.

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

	"github.com/luminex/warden/internal/api"
	"github.com/luminex/warden/internal/bus"
	"github.com/luminex/warden/internal/cache"
	"github.com/luminex/warden/internal/domain"
	"github.com/luminex/warden/internal/engine"
	"github.com/luminex/warden/internal/ledger"
	"github.com/luminex/warden/internal/reputation"
	"github.com/luminex/warden/internal/rules"
	"github.com/luminex/warden/internal/store"
	"github.com/luminex/warden/internal/worker"
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
	if os.Getenv("WARDEN_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting warden",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("WARDEN_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"store", cfg.Store.Driver,
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

	// Initialize Store
	st, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

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

	// Initialize custom rule engine and load rules from the store
	ruleEngine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromStore(ctx, st, ruleEngine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.RulesCount())

	// Initialize the decision engine
	registry := reputation.New(cacheImpl, st, logger)
	eng := engine.New(ledger.New(), registry, ruleEngine, busImpl, cacheImpl, logger)
	slog.Info("decision engine initialized")

	// Initialize the persistence worker
	asyncWorker := worker.NewWorker(busImpl, st)
	if err := asyncWorker.Start(); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, eng, ruleEngine, st, cacheImpl, busImpl, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("warden is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop the worker first so queued events get persisted
	asyncWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("warden shutdown complete")
}

// loadRulesFromStore loads custom rules from the store into the engine.
// Rules are configured via POST /v1/rules - no hardcoded defaults.
func loadRulesFromStore(ctx context.Context, st domain.Store, ruleEngine *rules.Engine) error {
	stored, err := st.ListCustomRules(ctx)
	if err != nil {
		slog.Warn("failed to list rules from store", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(stored) > 0 {
		slog.Info("loading rules from store", "count", len(stored))
		return ruleEngine.ReloadRules(stored)
	}

	slog.Info("no rules in store - configure via POST /v1/rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🛡  WARDEN                   ║")
	fmt.Println("  ║       Gameplay Anti-Fraud Engine          ║")
	fmt.Println("  ║      Fair play, verified rewards.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /v1/actions              - Record a gameplay action")
	fmt.Println("    POST   /v1/actions/check        - Check an action for fraud")
	fmt.Println("    POST   /v1/scores/validate      - Validate a session score")
	fmt.Println("    POST   /v1/devices              - Register a device sighting")
	fmt.Println("    POST   /v1/ips                  - Register an IP sighting")
	fmt.Println("    GET    /v1/users/{id}/stats     - User activity stats")
	fmt.Println("    GET    /v1/users/{id}/activities- Persisted audit trail")
	fmt.Println("    DELETE /v1/users/{id}/history   - Clear a user's history")
	fmt.Println("    POST   /v1/users/{id}/forgive   - Reset a user's strikes")
	fmt.Println("    GET    /v1/rules                - List custom rules")
	fmt.Println("    POST   /v1/rules                - Create a custom rule")
	fmt.Println("    POST   /v1/rules/reload         - Hot-reload rules")
	fmt.Println("    GET    /health                  - Health check")
	fmt.Println()
}
