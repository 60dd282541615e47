package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/retailgrid/sales-sync/internal/models"
	"github.com/retailgrid/sales-sync/pkg/encoding"

	_ "github.com/nakagami/firebirdsql"
)

// BranchRepository handles data access for a single branch store.
// Each branch runs a legacy Firebird installation, so the pool is pinned to
// one connection and text columns are decoded from WIN1252.
type BranchRepository struct {
	db     *sql.DB
	branch string
	logger *slog.Logger
}

// NewBranchRepository opens a connection pool for the branch database and
// verifies it with a ping. The caller owns the repository and must Close it.
func NewBranchRepository(branch, connString string, logger *slog.Logger) (*BranchRepository, error) {
	db, err := sql.Open("firebirdsql", connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open branch connection: %v", err)
	}

	// Connection pool settings optimized for legacy systems
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("branch %s ping failed: %v", branch, err)
	}

	logger.Info("Connected to branch database", "branch", branch)

	return &BranchRepository{
		db:     db,
		branch: branch,
		logger: logger,
	}, nil
}

// Branch returns the branch identifier this repository is bound to.
func (r *BranchRepository) Branch() string {
	return r.branch
}

// ReadAll returns every sale in the branch, oldest first. Full sync uses
// this: prior publish state is deliberately ignored.
func (r *BranchRepository) ReadAll(ctx context.Context) ([]models.SaleRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		SELECT SALE_ID, SALE_DATE, REGION, PRODUCT, QTY, COST, AMT, TAX, TOTAL
		FROM PRODUCT_SALES
		ORDER BY SALE_ID`

	rows, err := r.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read branch sales: %v", err)
	}
	defer rows.Close()

	return scanSales(rows)
}

// ReadUnsynced returns sales with no sync marker or an unset one.
func (r *BranchRepository) ReadUnsynced(ctx context.Context) ([]models.SaleRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	query := `
		SELECT s.SALE_ID, s.SALE_DATE, s.REGION, s.PRODUCT, s.QTY, s.COST, s.AMT, s.TAX, s.TOTAL
		FROM PRODUCT_SALES s
		LEFT JOIN PRODUCT_SALES_SYNC_STATUS st ON st.SALE_ID = s.SALE_ID
		WHERE st.SALE_ID IS NULL OR st.IS_SYNCED = 0
		ORDER BY s.SALE_ID`

	rows, err := r.db.QueryContext(opCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read unsynced sales: %v", err)
	}
	defer rows.Close()

	return scanSales(rows)
}

// HasUnsynced reports whether any sale lacks a positive sync marker.
func (r *BranchRepository) HasUnsynced(ctx context.Context) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT FIRST 1 1
		FROM PRODUCT_SALES s
		LEFT JOIN PRODUCT_SALES_SYNC_STATUS st ON st.SALE_ID = s.SALE_ID
		WHERE st.SALE_ID IS NULL OR st.IS_SYNCED = 0`

	var one int
	err := r.db.QueryRowContext(opCtx, query).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check unsynced sales: %v", err)
	}

	return true, nil
}

// InsertSale stores a new sale and returns the generated SALE_ID. The insert
// and the RETURNING clause run in one statement, so there is no window where
// the row exists without the caller knowing its key.
func (r *BranchRepository) InsertSale(ctx context.Context, rec models.SaleRecord) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		INSERT INTO PRODUCT_SALES (SALE_DATE, REGION, PRODUCT, QTY, COST, AMT, TAX, TOTAL)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING SALE_ID`

	var saleID int64
	err := r.db.QueryRowContext(opCtx, query,
		rec.Date.Format("2006-01-02"),
		rec.Region,
		rec.Product,
		rec.Qty,
		rec.Cost,
		rec.Amt,
		rec.Tax,
		rec.Total,
	).Scan(&saleID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sale: %v", err)
	}

	r.logger.Debug("Inserted branch sale", "branch", r.branch, "sale_id", saleID)
	return saleID, nil
}

// GetSale re-reads a committed row, capturing store-assigned fields.
func (r *BranchRepository) GetSale(ctx context.Context, saleID int64) (models.SaleRecord, error) {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT SALE_ID, SALE_DATE, REGION, PRODUCT, QTY, COST, AMT, TAX, TOTAL
		FROM PRODUCT_SALES
		WHERE SALE_ID = ?`

	row := r.db.QueryRowContext(opCtx, query, saleID)
	rec, err := scanSale(row)
	if err != nil {
		return models.SaleRecord{}, fmt.Errorf("failed to read sale %d: %v", saleID, err)
	}
	return rec, nil
}

// MarkSynced upserts the sync marker for the given sales. "Synced" here
// means successfully published; head-office commit confirmation is not part
// of the marker contract.
func (r *BranchRepository) MarkSynced(ctx context.Context, saleIDs []int64) error {
	if len(saleIDs) == 0 {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start marker transaction: %v", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE OR INSERT INTO PRODUCT_SALES_SYNC_STATUS (SALE_ID, IS_SYNCED, SYNC_TIME)
		VALUES (?, 1, CURRENT_TIMESTAMP)
		MATCHING (SALE_ID)`

	for _, id := range saleIDs {
		if _, err := tx.ExecContext(opCtx, query, id); err != nil {
			return fmt.Errorf("failed to mark sale %d synced: %v", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync markers: %v", err)
	}
	return nil
}

// Close gracefully shuts down the database connection pool
func (r *BranchRepository) Close() error {
	r.logger.Info("Closing branch connection pool", "branch", r.branch)
	return r.db.Close()
}

func scanSales(rows *sql.Rows) ([]models.SaleRecord, error) {
	var sales []models.SaleRecord
	for rows.Next() {
		var (
			rec             models.SaleRecord
			region, product []byte
		)
		err := rows.Scan(&rec.SaleID, &rec.Date, &region, &product,
			&rec.Qty, &rec.Cost, &rec.Amt, &rec.Tax, &rec.Total)
		if err != nil {
			return nil, fmt.Errorf("sale scan failed: %v", err)
		}
		rec.Region = encoding.ToUTF8(region)
		rec.Product = encoding.ToUTF8(product)
		sales = append(sales, rec)
	}
	return sales, rows.Err()
}

func scanSale(row *sql.Row) (models.SaleRecord, error) {
	var (
		rec             models.SaleRecord
		region, product []byte
	)
	err := row.Scan(&rec.SaleID, &rec.Date, &region, &product,
		&rec.Qty, &rec.Cost, &rec.Amt, &rec.Tax, &rec.Total)
	if err != nil {
		return models.SaleRecord{}, err
	}
	rec.Region = encoding.ToUTF8(region)
	rec.Product = encoding.ToUTF8(product)
	return rec, nil
}
