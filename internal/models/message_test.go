package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReplicationMessage(t *testing.T) {
	rec := SaleRecord{
		SaleID:  1,
		Date:    time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
		Region:  "East",
		Product: "Paper",
		Qty:     10,
		Cost:    12.05,
		Amt:     120.50,
		Tax:     8.44,
		Total:   128.94,
	}

	msg := NewReplicationMessage("branch1", rec)

	assert.Equal(t, int64(1), msg.SaleID)
	assert.Equal(t, "2024-01-10", msg.Date)
	assert.Equal(t, "branch1", msg.Branch)
	assert.Equal(t, "Paper", msg.Product)
	assert.Equal(t, 128.94, msg.Total)

	_, err := time.Parse(time.RFC3339, msg.Timestamp)
	assert.NoError(t, err, "timestamp must be RFC3339")
}

func TestSaleDateNormalization(t *testing.T) {
	want := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		date string
	}{
		{"bare date", "2024-01-10"},
		{"bare date with Z suffix", "2024-01-10Z"},
		{"timestamp without zone", "2024-01-10T15:04:05"},
		{"timestamp with Z suffix", "2024-01-10T15:04:05Z"},
		{"full RFC3339 with offset", "2024-01-10T15:04:05+00:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := ReplicationMessage{Date: tt.date}
			got, err := msg.SaleDate()
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
		})
	}
}

func TestSaleDateRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "not-a-date", "10/01/2024", "2024-13-45"} {
		msg := ReplicationMessage{Date: raw}
		_, err := msg.SaleDate()
		assert.Error(t, err, "expected failure for %q", raw)
	}
}

func TestHeadOfficeRecordMapping(t *testing.T) {
	msg := ReplicationMessage{
		SaleID:  42,
		Date:    "2024-01-10",
		Region:  "East",
		Product: "Paper",
		Qty:     10,
		Cost:    12.05,
		Amt:     120.50,
		Tax:     8.44,
		Total:   128.94,
		Branch:  "branch1",
	}

	rec, err := msg.HeadOfficeRecord()
	require.NoError(t, err)

	assert.Equal(t, int64(42), rec.OriginalSaleID)
	assert.Equal(t, "branch1", rec.SourceBranch)
	assert.Equal(t, time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC), rec.Date)
	assert.Equal(t, 10, rec.Qty)
	assert.Equal(t, 128.94, rec.Total)
}

func TestHeadOfficeRecordBadDate(t *testing.T) {
	msg := ReplicationMessage{SaleID: 1, Date: "banana", Branch: "branch1"}
	_, err := msg.HeadOfficeRecord()
	assert.Error(t, err)
}
