package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/retailgrid/sales-sync/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// HeadOfficeRepository is the consolidated store. Only the consumer writes
// replication rows here; the unique constraint on
// (original_sale_id, source_branch) is the authoritative idempotency guard.
type HeadOfficeRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewHeadOfficeRepository(ctx context.Context, connString string, logger *slog.Logger) (*HeadOfficeRepository, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse head-office pool config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create head-office pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("head-office database unreachable: %w", err)
	}

	logger.Info("Connected to head-office database")
	return &HeadOfficeRepository{pool: pool, logger: logger}, nil
}

// Exists reports whether a record for the idempotency key is already
// applied. This is an optimization: the insert path still has to tolerate
// the constraint firing when two deliveries race past this check.
func (r *HeadOfficeRepository) Exists(ctx context.Context, originalSaleID int64, sourceBranch string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM product_sales
			WHERE original_sale_id = $1 AND source_branch = $2
		)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, originalSaleID, sourceBranch).Scan(&exists); err != nil {
		return false, fmt.Errorf("idempotency lookup failed: %w", err)
	}
	return exists, nil
}

// Insert applies a replicated record inside a transaction. Returns
// applied=false without error when the unique constraint reports the key as
// already present: redelivery is expected, not a failure.
func (r *HeadOfficeRepository) Insert(ctx context.Context, rec models.HeadOfficeRecord) (applied bool, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO product_sales
			(original_sale_id, source_branch, date, region, product, qty, cost, amt, tax, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = tx.Exec(ctx, query,
		rec.OriginalSaleID,
		rec.SourceBranch,
		rec.Date,
		rec.Region,
		rec.Product,
		rec.Qty,
		rec.Cost,
		rec.Amt,
		rec.Tax,
		rec.Total,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			r.logger.Warn("Idempotency race detected: record already applied",
				"original_sale_id", rec.OriginalSaleID,
				"source_branch", rec.SourceBranch,
			)
			return false, nil
		}
		return false, fmt.Errorf("head-office insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("head-office commit failed: %w", err)
	}
	return true, nil
}

// CountForBranch returns the number of applied records attributed to a branch.
func (r *HeadOfficeRepository) CountForBranch(ctx context.Context, sourceBranch string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM product_sales WHERE source_branch = $1`, sourceBranch,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("branch count failed: %w", err)
	}
	return count, nil
}

// ReadAll returns the consolidated records, newest first. Serves the
// read-only view on the control surface.
func (r *HeadOfficeRepository) ReadAll(ctx context.Context) ([]models.HeadOfficeRecord, error) {
	query := `
		SELECT id, original_sale_id, source_branch, date, region, product, qty, cost, amt, tax, total
		FROM product_sales
		ORDER BY id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read head-office sales: %w", err)
	}
	defer rows.Close()

	var records []models.HeadOfficeRecord
	for rows.Next() {
		var rec models.HeadOfficeRecord
		err := rows.Scan(&rec.ID, &rec.OriginalSaleID, &rec.SourceBranch, &rec.Date,
			&rec.Region, &rec.Product, &rec.Qty, &rec.Cost, &rec.Amt, &rec.Tax, &rec.Total)
		if err != nil {
			return nil, fmt.Errorf("head-office scan failed: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *HeadOfficeRepository) Close() {
	r.logger.Info("Closing head-office connection pool")
	r.pool.Close()
}
