package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailgrid/sales-sync/internal/models"
	"github.com/retailgrid/sales-sync/pkg/metrics"
)

// ErrMalformed marks a payload that can never be applied: undeserializable
// body, unknown schema or an unparseable date. The consumer must reject
// these without requeue or they loop forever.
var ErrMalformed = errors.New("malformed replication message")

// HeadOfficeStore is the slice of the head-office repository the handler
// needs. Insert reports applied=false when the record was already present.
type HeadOfficeStore interface {
	Exists(ctx context.Context, originalSaleID int64, sourceBranch string) (bool, error)
	Insert(ctx context.Context, rec models.HeadOfficeRecord) (bool, error)
}

// ApplyHandler applies replication messages to the head-office store with
// idempotent semantics: the same message applied twice yields one record.
type ApplyHandler struct {
	store  HeadOfficeStore
	logger *slog.Logger
}

func NewApplyHandler(store HeadOfficeStore, logger *slog.Logger) *ApplyHandler {
	return &ApplyHandler{
		store:  store,
		logger: logger,
	}
}

// Apply executes one message: decode, normalize, dedup, insert. A nil return
// means the message can be acknowledged (freshly applied or already
// present). An ErrMalformed return means drop without requeue; anything else
// is a transient store failure and the message should be redelivered.
func (h *ApplyHandler) Apply(ctx context.Context, body []byte) (err error) {
	start := time.Now()
	branch := "unknown"
	status := "applied"

	defer func() {
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				status = "poison"
			} else {
				status = "transient_error"
			}
		}
		metrics.ApplyDuration.WithLabelValues(status, branch).Observe(time.Since(start).Seconds())
	}()

	var msg models.ReplicationMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		h.logger.Error("Failed to decode replication message", "error", err)
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	branch = msg.Branch

	l := h.logger.With(
		"branch", msg.Branch,
		"sale_id", msg.SaleID,
	)

	rec, err := msg.HeadOfficeRecord()
	if err != nil {
		l.Error("Failed to normalize sale date", "date", msg.Date, "error", err)
		return fmt.Errorf("%w: bad date %q: %v", ErrMalformed, msg.Date, err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	exists, err := h.store.Exists(checkCtx, rec.OriginalSaleID, rec.SourceBranch)
	cancel()
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if exists {
		l.Info("Record already applied, skipping to ACK")
		status = "duplicate"
		return nil
	}

	applyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	applied, err := h.store.Insert(applyCtx, rec)
	cancel()
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	if !applied {
		// Lost the race against a concurrent delivery of the same key;
		// the unique constraint did its job and this is a success.
		status = "duplicate"
		l.Info("Record applied by a concurrent delivery")
		return nil
	}

	l.Info("Replicated sale to head office", "region", rec.Region, "product", rec.Product)
	return nil
}
