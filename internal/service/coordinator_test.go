package service

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	branch    string
	changes   bool
	changeErr error
	count     int
	syncErr   error
	syncCalls atomic.Int64
}

func (s *fakeSyncer) Branch() string { return s.branch }

func (s *fakeSyncer) HasChanges(context.Context) (bool, error) {
	return s.changes, s.changeErr
}

func (s *fakeSyncer) SyncAll(context.Context) (int, error) {
	s.syncCalls.Add(1)
	return s.count, s.syncErr
}

func newTestCoordinator(syncers ...*fakeSyncer) *Coordinator {
	bs := make([]BranchSyncer, len(syncers))
	for i, s := range syncers {
		bs[i] = s
	}
	return NewCoordinator(bs, slog.Default())
}

func TestCheckForChanges(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", changes: true}
	b2 := &fakeSyncer{branch: "branch2", changes: false}
	c := newTestCoordinator(b1, b2)

	status, err := c.CheckForChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"branch1": true, "branch2": false}, status)
}

func TestCheckForChangesPartialFailure(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", changes: true}
	b2 := &fakeSyncer{branch: "branch2", changeErr: errors.New("branch down")}
	c := newTestCoordinator(b1, b2)

	status, err := c.CheckForChanges(context.Background())
	assert.Error(t, err)
	assert.True(t, status["branch1"], "healthy branches still report")
	assert.False(t, status["branch2"])
}

func TestSyncAllCollectsCounts(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", count: 3}
	b2 := &fakeSyncer{branch: "branch2", count: 5}
	c := newTestCoordinator(b1, b2)

	counts, err := c.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"branch1": 3, "branch2": 5}, counts)
}

func TestSyncAllContinuesPastFailedBranch(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", syncErr: errors.New("broker offline")}
	b2 := &fakeSyncer{branch: "branch2", count: 5}
	c := newTestCoordinator(b1, b2)

	counts, err := c.SyncAll(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 5, counts["branch2"], "one failed branch must not block the rest")
	assert.EqualValues(t, 1, b2.syncCalls.Load())
}

func TestSyncBranch(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", count: 7}
	c := newTestCoordinator(b1)

	count, err := c.SyncBranch(context.Background(), "branch1")
	require.NoError(t, err)
	assert.Equal(t, 7, count)

	_, err = c.SyncBranch(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAutoSyncLifecycle(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", count: 1}
	c := newTestCoordinator(b1)

	assert.False(t, c.AutoSyncRunning())
	require.NoError(t, c.StartAutoSync(10*time.Millisecond))
	assert.True(t, c.AutoSyncRunning())

	// Starting twice is refused.
	assert.Error(t, c.StartAutoSync(10*time.Millisecond))

	// Let a few ticks fire; each tick syncs unconditionally.
	assert.Eventually(t, func() bool {
		return b1.syncCalls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.StopAutoSync())
	assert.False(t, c.AutoSyncRunning())

	// Stopping twice is refused.
	assert.Error(t, c.StopAutoSync())

	// No further ticks after stop.
	stopped := b1.syncCalls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, b1.syncCalls.Load())
}

func TestStartAutoSyncRejectsBadInterval(t *testing.T) {
	c := newTestCoordinator(&fakeSyncer{branch: "branch1"})
	assert.Error(t, c.StartAutoSync(0))
}

func TestManualSyncDuringAutoSync(t *testing.T) {
	b1 := &fakeSyncer{branch: "branch1", count: 2}
	c := newTestCoordinator(b1)

	require.NoError(t, c.StartAutoSync(5*time.Millisecond))
	defer c.StopAutoSync()

	// A manual trigger overlapping the timer is allowed; idempotent apply
	// downstream keeps the overlap correct.
	count, err := c.SyncBranch(context.Background(), "branch1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
