package models

import "time"

// SaleRecord is a single row from a branch's PRODUCT_SALES table.
// Records are owned by their originating branch and are immutable once
// created; there is no update or delete path in the replication protocol.
type SaleRecord struct {
	SaleID  int64     `db:"SALE_ID"`
	Date    time.Time `db:"SALE_DATE"`
	Region  string    `db:"REGION"`
	Product string    `db:"PRODUCT"`
	Qty     int       `db:"QTY"`
	Cost    float64   `db:"COST"`
	Amt     float64   `db:"AMT"`
	Tax     float64   `db:"TAX"`
	Total   float64   `db:"TOTAL"`
}

// HeadOfficeRecord is the consolidated, deduplicated row at head office.
// The pair (OriginalSaleID, SourceBranch) is the idempotency key and carries
// a unique constraint in Postgres; rows are never mutated after insert.
type HeadOfficeRecord struct {
	ID             int64     `db:"id"`
	OriginalSaleID int64     `db:"original_sale_id"`
	SourceBranch   string    `db:"source_branch"`
	Date           time.Time `db:"date"`
	Region         string    `db:"region"`
	Product        string    `db:"product"`
	Qty            int       `db:"qty"`
	Cost           float64   `db:"cost"`
	Amt            float64   `db:"amt"`
	Tax            float64   `db:"tax"`
	Total          float64   `db:"total"`
}
