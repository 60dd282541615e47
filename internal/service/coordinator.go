package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BranchSyncer is the slice of SalesPublisher the coordinator drives.
type BranchSyncer interface {
	Branch() string
	HasChanges(ctx context.Context) (bool, error)
	SyncAll(ctx context.Context) (int, error)
}

// Coordinator decides when full syncs run: on a timer, or synchronously from
// an operator action. It never consults change detection before a timed sync;
// every tick re-publishes everything and idempotent apply keeps it correct,
// including when a manual trigger overlaps a tick.
type Coordinator struct {
	syncers map[string]BranchSyncer
	order   []string
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

func NewCoordinator(syncers []BranchSyncer, logger *slog.Logger) *Coordinator {
	byBranch := make(map[string]BranchSyncer, len(syncers))
	order := make([]string, 0, len(syncers))
	for _, s := range syncers {
		byBranch[s.Branch()] = s
		order = append(order, s.Branch())
	}
	return &Coordinator{
		syncers: byBranch,
		order:   order,
		logger:  logger,
	}
}

// Branches returns the branch identifiers in their fixed sync order.
func (c *Coordinator) Branches() []string {
	return c.order
}

// CheckForChanges queries each branch for unsynced records. Branches that
// fail the query report false and contribute to the joined error.
func (c *Coordinator) CheckForChanges(ctx context.Context) (map[string]bool, error) {
	status := make(map[string]bool, len(c.order))
	var errs []error

	for _, branch := range c.order {
		has, err := c.syncers[branch].HasChanges(ctx)
		if err != nil {
			c.logger.Error("Change check failed", "branch", branch, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", branch, err))
			status[branch] = false
			continue
		}
		status[branch] = has
	}

	return status, errors.Join(errs...)
}

// SyncBranch runs a full sync for one branch and returns the publish count.
func (c *Coordinator) SyncBranch(ctx context.Context, branch string) (int, error) {
	s, ok := c.syncers[branch]
	if !ok {
		return 0, fmt.Errorf("unknown branch %q", branch)
	}
	return s.SyncAll(ctx)
}

// SyncAll runs a full sync for every branch and returns per-branch counts.
// A branch failure does not stop the remaining branches.
func (c *Coordinator) SyncAll(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(c.order))
	var errs []error

	for _, branch := range c.order {
		n, err := c.syncers[branch].SyncAll(ctx)
		counts[branch] = n
		if err != nil {
			c.logger.Error("Branch sync failed", "branch", branch, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", branch, err))
		}
	}

	return counts, errors.Join(errs...)
}

// StartAutoSync launches the interval-driven sync loop. Each tick invokes
// SyncAll unconditionally.
func (c *Coordinator) StartAutoSync(interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("auto sync is already running")
	}
	if interval <= 0 {
		return fmt.Errorf("invalid auto-sync interval %s", interval)
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true

	go c.autoSyncLoop(interval, c.stop, c.done)

	c.logger.Info("Auto sync started", "interval", interval)
	return nil
}

// StopAutoSync signals the loop to stop and waits (bounded) for the current
// tick to finish.
func (c *Coordinator) StopAutoSync() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return fmt.Errorf("auto sync is not running")
	}

	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timed out waiting for auto-sync tick to finish")
	}

	c.running = false
	c.logger.Info("Auto sync stopped")
	return nil
}

// AutoSyncRunning reports whether the timer loop is active.
func (c *Coordinator) AutoSyncRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) autoSyncLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.logger.Info("Running scheduled sync")

			tickCtx, cancel := context.WithTimeout(context.Background(), interval)
			counts, err := c.SyncAll(tickCtx)
			cancel()

			if err != nil {
				c.logger.Error("Scheduled sync completed with errors", "counts", counts, "error", err)
			} else {
				c.logger.Info("Scheduled sync complete", "counts", counts)
			}
		}
	}
}
