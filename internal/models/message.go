package models

import (
	"strings"
	"time"
)

// ReplicationMessage is the wire representation of a SaleRecord plus
// provenance. It lives only in transit: produced by a branch publisher,
// consumed and discarded at head office. Timestamp is informational and
// plays no part in ordering or deduplication.
type ReplicationMessage struct {
	SaleID    int64   `json:"sale_id"`
	Date      string  `json:"date"`
	Region    string  `json:"region"`
	Product   string  `json:"product"`
	Qty       int     `json:"qty"`
	Cost      float64 `json:"cost"`
	Amt       float64 `json:"amt"`
	Tax       float64 `json:"tax"`
	Total     float64 `json:"total"`
	Branch    string  `json:"branch"`
	Timestamp string  `json:"timestamp"`
}

const dateOnly = "2006-01-02"

// NewReplicationMessage builds the wire message for a branch record.
func NewReplicationMessage(branch string, rec SaleRecord) ReplicationMessage {
	return ReplicationMessage{
		SaleID:    rec.SaleID,
		Date:      rec.Date.Format(dateOnly),
		Region:    rec.Region,
		Product:   rec.Product,
		Qty:       rec.Qty,
		Cost:      rec.Cost,
		Amt:       rec.Amt,
		Tax:       rec.Tax,
		Total:     rec.Total,
		Branch:    branch,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// SaleDate normalizes the date field to a calendar date. Branch publishers
// send bare dates, but older emitters include a time component and sometimes
// a trailing UTC designator, so we accept all three before giving up.
func (m ReplicationMessage) SaleDate() (time.Time, error) {
	raw := m.Date

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return truncateToDate(t), nil
	}

	// Timestamps without a zone offset, e.g. "2024-01-10T15:04:05",
	// optionally with the Z suffix stripped below.
	trimmed := strings.TrimSuffix(raw, "Z")
	if t, err := time.Parse("2006-01-02T15:04:05", trimmed); err == nil {
		return truncateToDate(t), nil
	}

	t, err := time.Parse(dateOnly, trimmed)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// HeadOfficeRecord converts the message into the row persisted at head
// office. Fails when the date cannot be normalized.
func (m ReplicationMessage) HeadOfficeRecord() (HeadOfficeRecord, error) {
	date, err := m.SaleDate()
	if err != nil {
		return HeadOfficeRecord{}, err
	}

	return HeadOfficeRecord{
		OriginalSaleID: m.SaleID,
		SourceBranch:   m.Branch,
		Date:           date,
		Region:         m.Region,
		Product:        m.Product,
		Qty:            m.Qty,
		Cost:           m.Cost,
		Amt:            m.Amt,
		Tax:            m.Tax,
		Total:          m.Total,
	}, nil
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
