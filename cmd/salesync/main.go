package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/retailgrid/sales-sync/internal/broker"
	"github.com/retailgrid/sales-sync/internal/config"
	"github.com/retailgrid/sales-sync/internal/control"
	"github.com/retailgrid/sales-sync/internal/db"
	"github.com/retailgrid/sales-sync/internal/processor"
	"github.com/retailgrid/sales-sync/internal/service"
	"github.com/retailgrid/sales-sync/pkg/infra"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("🔧 Initializing Sales Sync node...",
		"branches", cfg.Branches,
	)

	// Graceful Shutdown Context
	// Canceled when SIGINT (Ctrl+C) or SIGTERM (Docker stop) is received
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Head-office store (Postgres)
	headOffice, err := db.NewHeadOfficeRepository(ctx, cfg.HeadOfficeURL, logger)
	if err != nil {
		logger.Error("FATAL: Failed to connect to head-office database", "error", err)
		os.Exit(1)
	}
	defer headOffice.Close()

	// Branch stores (legacy Firebird installations)
	branchRepos := make(map[string]*db.BranchRepository, len(cfg.Branches))
	for _, branch := range cfg.Branches {
		repo, err := db.NewBranchRepository(branch, cfg.BranchURLs[branch], logger)
		if err != nil {
			logger.Error("FATAL: Failed to connect to branch database", "branch", branch, "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		branchRepos[branch] = repo
	}

	// Broker client for the publish side. Topology is declared here; a
	// declaration failure means the broker contract cannot be honored and
	// aborts startup.
	rabbit, err := broker.NewClient(cfg.RabbitMQURL, cfg.Branches, logger)
	if err != nil {
		logger.Error("FATAL: Failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	// Per-branch publishers and the coordinator above them
	syncers := make([]service.BranchSyncer, 0, len(cfg.Branches))
	creators := make(map[string]control.SaleCreator, len(cfg.Branches))
	readers := make(map[string]control.BranchReader, len(cfg.Branches))
	for _, branch := range cfg.Branches {
		pub := service.NewSalesPublisher(branchRepos[branch], rabbit, cfg.PublishPause, logger)
		syncers = append(syncers, pub)
		creators[branch] = pub
		readers[branch] = branchRepos[branch]
	}
	coordinator := service.NewCoordinator(syncers, logger)

	// Head-office consumer, started and stopped through the control surface
	handler := processor.NewApplyHandler(headOffice, logger)
	consumer := broker.NewConsumer(cfg.RabbitMQURL, cfg.Branches, handler, cfg.DeliveryLimit, logger)

	server := control.NewServer(consumer, coordinator, creators, readers, headOffice, cfg.SyncInterval, logger)

	logger.Info("🚀 Sales Sync node running", "control_addr", cfg.ControlAddr)

	// Blocks until ctx is canceled
	if err := server.ListenAndServe(ctx, cfg.ControlAddr); err != nil {
		logger.Error("Control server failed", "error", err)
	}

	// Shutdown Sequence
	if coordinator.AutoSyncRunning() {
		_ = coordinator.StopAutoSync()
	}
	consumer.Stop()

	logger.Info("✅ Sales Sync node shut down successfully.")
}
