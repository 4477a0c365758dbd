// Vasool - Receivables follow-up that knows when to escalate.
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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/vasool/internal/aggregate"
	"github.com/opensource-finance/vasool/internal/api"
	"github.com/opensource-finance/vasool/internal/bus"
	"github.com/opensource-finance/vasool/internal/cache"
	"github.com/opensource-finance/vasool/internal/cadence"
	"github.com/opensource-finance/vasool/internal/config"
	"github.com/opensource-finance/vasool/internal/domain"
	"github.com/opensource-finance/vasool/internal/metrics"
	"github.com/opensource-finance/vasool/internal/protocol"
	"github.com/opensource-finance/vasool/internal/repository"
	"github.com/opensource-finance/vasool/internal/rules"
	"github.com/opensource-finance/vasool/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(config.Options{ConfigFile: os.Getenv("VASOOL_CONFIG")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting vasool",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Location().String(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	contacts := cadence.NewService(repo)

	engine, err := rules.NewPolicyEngine(contacts.ContactCounter(), cfg.Reminders.MaxWorkers)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}
	loadPolicies(ctx, repo, engine, cfg.Reminders.Tenants)

	protocols := protocol.NewStore(repo, cacheImpl, busImpl, cfg.Reminders.ProtocolCacheTTL)
	processor := aggregate.NewProcessor(engine, cfg.Reminders.CadenceWindow)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	sweeper := worker.NewWorker(busImpl, repo, cacheImpl, protocols, processor, m)
	if err := sweeper.Start(worker.Config{
		TenantIDs:     cfg.Reminders.Tenants,
		SweepInterval: cfg.Reminders.SweepInterval,
		DedupeWindow:  cfg.Reminders.DedupeWindow,
		Location:      cfg.Location(),
	}); err != nil {
		slog.Error("failed to start reminder worker", "error", err)
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Protocols: protocols,
		Engine:    engine,
		Processor: processor,
		Cadence:   contacts,
		Metrics:   m,
		Location:  cfg.Location(),
		Version:   Version,
	}, cfg.Metrics.Path)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("vasool is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"tenants", len(cfg.Reminders.Tenants),
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if err := sweeper.Stop(); err != nil {
		slog.Error("failed to stop reminder worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("vasool shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadPolicies loads stored policies for the global scope and each
// configured tenant. Failures are logged; policies can be reloaded via
// POST /policies/reload.
func loadPolicies(ctx context.Context, repo domain.Repository, engine *rules.PolicyEngine, tenants []string) {
	for _, tenantID := range append([]string{rules.GlobalTenantID}, tenants...) {
		policies, err := repo.ListPolicies(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list policies", "tenant_id", tenantID, "error", err)
			continue
		}
		if err := engine.ReloadPolicies(tenantID, policies); err != nil {
			slog.Warn("failed to load policies", "tenant_id", tenantID, "error", err)
			continue
		}
		slog.Info("policies loaded", "tenant_id", tenantID, "count", engine.PoliciesCount(tenantID))
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  VASOOL - Escalation & Risk Engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Timezone: %s\n", cfg.Location())
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    GET  /protocol            - Escalation protocol")
	fmt.Println("    POST /classify            - Classify one invoice")
	fmt.Println("    POST /invoices/import     - Import a JSON batch or xlsx")
	fmt.Println("    GET  /customers           - Customer summaries")
	fmt.Println("    GET  /dashboard           - Portfolio overview")
	fmt.Println("    GET  /followups/queue     - Today's follow-up queue")
	fmt.Println("    POST /followups/sweep     - Publish due reminders now")
	fmt.Println("    POST /payments            - Record a payment")
	fmt.Println("    POST /policies/reload     - Hot-reload policies")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
