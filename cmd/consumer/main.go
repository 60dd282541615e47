package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/retailgrid/sales-sync/internal/broker"
	"github.com/retailgrid/sales-sync/internal/config"
	"github.com/retailgrid/sales-sync/internal/db"
	"github.com/retailgrid/sales-sync/internal/processor"
	"github.com/retailgrid/sales-sync/pkg/infra"
	_ "github.com/retailgrid/sales-sync/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Headless head-office consumer. Run this OR the supervised consumer inside
// cmd/salesync, never both: two subscribers on one branch queue break the
// per-branch ordering guarantee.
func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Head-office consumer initializing...",
		"branches", cfg.Branches,
		"delivery_limit", cfg.DeliveryLimit,
	)

	headOffice, err := db.NewHeadOfficeRepository(ctx, cfg.HeadOfficeURL, logger)
	if err != nil {
		logger.Error("CRITICAL: head-office connection failed", "error", err)
		os.Exit(1)
	}
	defer headOffice.Close()

	handler := processor.NewApplyHandler(headOffice, logger)

	go startObservabilityServer(cfg.MetricsAddr, logger)

	connBackoff := infra.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received")
			return
		default:
			consumer := broker.NewConsumer(cfg.RabbitMQURL, cfg.Branches, handler, cfg.DeliveryLimit, logger)

			err := consumer.Listen(ctx)
			if err == nil {
				// Clean shutdown via context
				return
			}

			wait := connBackoff.Next()
			logger.Error("⚠️ Consumer connection lost, retrying...",
				"wait_duration", wait,
				"error", err,
			)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

func startObservabilityServer(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("CONSUMER ALIVE"))
	})

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
