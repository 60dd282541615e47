package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/retailgrid/sales-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBranchStore struct {
	branch    string
	sales     []models.SaleRecord
	unsynced  []int64
	synced    []int64
	nextID    int64
	readErr   error
	insertErr error
	markErr   error
}

func (s *fakeBranchStore) Branch() string { return s.branch }

func (s *fakeBranchStore) ReadAll(context.Context) ([]models.SaleRecord, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.sales, nil
}

func (s *fakeBranchStore) ReadUnsynced(context.Context) ([]models.SaleRecord, error) {
	var out []models.SaleRecord
	for _, rec := range s.sales {
		for _, id := range s.unsynced {
			if rec.SaleID == id {
				out = append(out, rec)
			}
		}
	}
	return out, nil
}

func (s *fakeBranchStore) HasUnsynced(context.Context) (bool, error) {
	return len(s.unsynced) > 0, nil
}

func (s *fakeBranchStore) InsertSale(_ context.Context, rec models.SaleRecord) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.nextID++
	rec.SaleID = s.nextID
	s.sales = append(s.sales, rec)
	s.unsynced = append(s.unsynced, rec.SaleID)
	return rec.SaleID, nil
}

func (s *fakeBranchStore) GetSale(_ context.Context, saleID int64) (models.SaleRecord, error) {
	for _, rec := range s.sales {
		if rec.SaleID == saleID {
			return rec, nil
		}
	}
	return models.SaleRecord{}, errors.New("not found")
}

func (s *fakeBranchStore) MarkSynced(_ context.Context, ids []int64) error {
	if s.markErr != nil {
		return s.markErr
	}
	s.synced = append(s.synced, ids...)
	return nil
}

type fakeBroker struct {
	published []models.ReplicationMessage
	failOn    map[int64]bool // sale_id -> fail
	healthy   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{failOn: make(map[int64]bool), healthy: true}
}

func (b *fakeBroker) Publish(_ context.Context, msg models.ReplicationMessage) error {
	if b.failOn[msg.SaleID] {
		return errors.New("broker NACK")
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) IsHealthy() bool { return b.healthy }

func branchFixture() *fakeBranchStore {
	date := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	return &fakeBranchStore{
		branch: "branch1",
		nextID: 3,
		sales: []models.SaleRecord{
			{SaleID: 1, Date: date, Region: "East", Product: "Paper", Qty: 10, Cost: 12.05, Amt: 120.50, Tax: 8.44, Total: 128.94},
			{SaleID: 2, Date: date, Region: "East", Product: "Pens", Qty: 20, Cost: 2.19, Amt: 43.80, Tax: 3.07, Total: 46.87},
			{SaleID: 3, Date: date, Region: "North-East", Product: "Chairs", Qty: 2, Cost: 55.00, Amt: 110.00, Tax: 7.70, Total: 117.70},
		},
	}
}

func TestSyncAllPublishesEverything(t *testing.T) {
	store := branchFixture()
	broker := newFakeBroker()
	p := NewSalesPublisher(store, broker, 0, slog.Default())

	count, err := p.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Len(t, broker.published, 3)

	// Full sync is ordered and attributes every message to the branch.
	assert.Equal(t, int64(1), broker.published[0].SaleID)
	assert.Equal(t, int64(3), broker.published[2].SaleID)
	for _, msg := range broker.published {
		assert.Equal(t, "branch1", msg.Branch)
	}

	assert.ElementsMatch(t, []int64{1, 2, 3}, store.synced)
}

func TestSyncAllReportsPartialFailureAsCount(t *testing.T) {
	store := branchFixture()
	broker := newFakeBroker()
	broker.failOn[2] = true
	p := NewSalesPublisher(store, broker, 0, slog.Default())

	count, err := p.SyncAll(context.Background())
	require.NoError(t, err, "partial failure is a count, not an error")
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []int64{1, 3}, store.synced, "only published records get markers")
}

func TestSyncAllEmptyBranch(t *testing.T) {
	store := &fakeBranchStore{branch: "branch1"}
	p := NewSalesPublisher(store, newFakeBroker(), 0, slog.Default())

	count, err := p.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSyncAllReadFailure(t *testing.T) {
	store := branchFixture()
	store.readErr = errors.New("connection refused")
	p := NewSalesPublisher(store, newFakeBroker(), 0, slog.Default())

	_, err := p.SyncAll(context.Background())
	assert.Error(t, err)
}

func TestSyncAllMarkerFailureIsNotFatal(t *testing.T) {
	store := branchFixture()
	store.markErr = errors.New("marker table locked")
	p := NewSalesPublisher(store, newFakeBroker(), 0, slog.Default())

	count, err := p.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestAddAndSyncPublishesCommittedRow(t *testing.T) {
	store := branchFixture()
	broker := newFakeBroker()
	p := NewSalesPublisher(store, broker, 0, slog.Default())

	rec := models.SaleRecord{
		Date:    time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Region:  "East",
		Product: "Notebooks",
		Qty:     5,
		Cost:    4.00,
		Amt:     20.00,
		Tax:     1.40,
		Total:   21.40,
	}

	err := p.AddAndSync(context.Background(), rec)
	require.NoError(t, err)

	require.Len(t, broker.published, 1)
	assert.Equal(t, int64(4), broker.published[0].SaleID, "store-assigned key captured before publish")
	assert.Equal(t, []int64{4}, store.synced)
}

func TestAddAndSyncInsertFailure(t *testing.T) {
	store := branchFixture()
	store.insertErr = errors.New("constraint violation")
	broker := newFakeBroker()
	p := NewSalesPublisher(store, broker, 0, slog.Default())

	err := p.AddAndSync(context.Background(), models.SaleRecord{})
	require.Error(t, err)
	assert.Empty(t, broker.published)
}

func TestAddAndSyncPublishFailureKeepsLocalInsert(t *testing.T) {
	store := branchFixture()
	broker := newFakeBroker()
	broker.failOn[4] = true
	p := NewSalesPublisher(store, broker, 0, slog.Default())

	err := p.AddAndSync(context.Background(), models.SaleRecord{Date: time.Now()})
	require.Error(t, err)

	// The local insert is not rolled back; the record stays unsynced and
	// the next full sync closes the gap.
	assert.Len(t, store.sales, 4)
	assert.Empty(t, store.synced)
}

func TestHasChanges(t *testing.T) {
	store := branchFixture()
	p := NewSalesPublisher(store, newFakeBroker(), 0, slog.Default())

	has, err := p.HasChanges(context.Background())
	require.NoError(t, err)
	assert.False(t, has)

	store.unsynced = []int64{2}
	has, err = p.HasChanges(context.Background())
	require.NoError(t, err)
	assert.True(t, has)
}
