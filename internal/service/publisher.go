package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailgrid/sales-sync/internal/models"
	"github.com/retailgrid/sales-sync/pkg/metrics"
)

// BranchStore defines the data access contract a publisher needs from its
// branch database.
type BranchStore interface {
	Branch() string
	ReadAll(ctx context.Context) ([]models.SaleRecord, error)
	ReadUnsynced(ctx context.Context) ([]models.SaleRecord, error)
	HasUnsynced(ctx context.Context) (bool, error)
	InsertSale(ctx context.Context, rec models.SaleRecord) (int64, error)
	GetSale(ctx context.Context, saleID int64) (models.SaleRecord, error)
	MarkSynced(ctx context.Context, saleIDs []int64) error
}

// MessagePublisher defines the broker publishing contract.
type MessagePublisher interface {
	Publish(ctx context.Context, msg models.ReplicationMessage) error
	IsHealthy() bool
}

// SalesPublisher converts one branch's records into replication messages and
// pushes them to the branch queue.
type SalesPublisher struct {
	repo   BranchStore
	broker MessagePublisher
	pause  time.Duration
	logger *slog.Logger
}

func NewSalesPublisher(repo BranchStore, broker MessagePublisher, pause time.Duration, logger *slog.Logger) *SalesPublisher {
	return &SalesPublisher{
		repo:   repo,
		broker: broker,
		pause:  pause,
		logger: logger,
	}
}

// Branch returns the branch this publisher serves.
func (p *SalesPublisher) Branch() string {
	return p.repo.Branch()
}

// HasChanges reports whether the branch has records without a sync marker.
func (p *SalesPublisher) HasChanges(ctx context.Context) (bool, error) {
	return p.repo.HasUnsynced(ctx)
}

// PublishRecord sends a single record. No internal retry: a failure is
// reported to the caller, who retries at the batch level.
func (p *SalesPublisher) PublishRecord(ctx context.Context, rec models.SaleRecord) error {
	msg := models.NewReplicationMessage(p.repo.Branch(), rec)
	return p.broker.Publish(ctx, msg)
}

// SyncAll re-publishes every record in the branch regardless of prior
// publish state and returns the number successfully published. Correctness
// under re-publish rests entirely on consumer-side idempotency. Messages
// already published when a later one fails are not rolled back.
func (p *SalesPublisher) SyncAll(ctx context.Context) (int, error) {
	start := time.Now()
	branch := p.repo.Branch()

	records, err := p.repo.ReadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s records: %w", branch, err)
	}
	if len(records) == 0 {
		p.logger.Info("No records to sync", "branch", branch)
		return 0, nil
	}

	published := make([]int64, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			break
		}

		if err := p.PublishRecord(ctx, rec); err != nil {
			p.logger.Error("Publish failed, skipping record",
				"branch", branch, "sale_id", rec.SaleID, "error", err)
			metrics.MessagesPublished.WithLabelValues("error", branch).Inc()
			continue
		}
		published = append(published, rec.SaleID)
		metrics.MessagesPublished.WithLabelValues("sent", branch).Inc()

		// Brief pause between messages bounds burst load on the broker.
		select {
		case <-time.After(p.pause):
		case <-ctx.Done():
		}
	}

	if err := p.repo.MarkSynced(ctx, published); err != nil {
		// Markers are an optimization for change detection; the next full
		// sync re-publishes and the consumer absorbs the duplicates.
		p.logger.Warn("Failed to update sync markers", "branch", branch, "error", err)
	}

	metrics.SyncBatchSize.Observe(float64(len(published)))
	metrics.SyncDuration.WithLabelValues(branch).Observe(time.Since(start).Seconds())

	p.logger.Info("Full sync finished",
		"branch", branch,
		"published", len(published),
		"total", len(records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return len(published), nil
}

// AddAndSync inserts a new sale locally, re-reads the committed row to
// capture the store-assigned key, and publishes it. The local insert is not
// rolled back when the publish fails; the record stays visible as unsynced
// and the next full sync closes the gap.
func (p *SalesPublisher) AddAndSync(ctx context.Context, rec models.SaleRecord) error {
	branch := p.repo.Branch()

	saleID, err := p.repo.InsertSale(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to add sale to %s: %w", branch, err)
	}

	committed, err := p.repo.GetSale(ctx, saleID)
	if err != nil {
		return fmt.Errorf("failed to re-read sale %d from %s: %w", saleID, branch, err)
	}

	if err := p.PublishRecord(ctx, committed); err != nil {
		metrics.MessagesPublished.WithLabelValues("error", branch).Inc()
		return fmt.Errorf("sale %d stored in %s but publish failed: %w", saleID, branch, err)
	}
	metrics.MessagesPublished.WithLabelValues("sent", branch).Inc()

	if err := p.repo.MarkSynced(ctx, []int64{saleID}); err != nil {
		p.logger.Warn("Sale published but marker update failed",
			"branch", branch, "sale_id", saleID, "error", err)
	}

	p.logger.Info("Added and replicated new sale", "branch", branch, "sale_id", saleID)
	return nil
}
