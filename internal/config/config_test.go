package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, []string{"branch1", "branch2"}, cfg.Branches)
	assert.Equal(t, 60*time.Second, cfg.SyncInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.PublishPause)
	assert.Equal(t, 5, cfg.DeliveryLimit)
	assert.Contains(t, cfg.BranchURLs, "branch1")
	assert.Contains(t, cfg.BranchURLs, "branch2")
}

func TestLoadBranchList(t *testing.T) {
	t.Setenv("BRANCHES", "north, south ,east")
	t.Setenv("NORTH_DATABASE_URL", "sysdba:masterkey@north-db:3050/data/sales.fdb")

	cfg := Load()

	assert.Equal(t, []string{"north", "south", "east"}, cfg.Branches)
	assert.Equal(t, "sysdba:masterkey@north-db:3050/data/sales.fdb", cfg.BranchURLs["north"])
	assert.Empty(t, cfg.BranchURLs["south"], "unset branch DSN stays empty")
}

func TestDeliveryLimitClamping(t *testing.T) {
	t.Setenv("DELIVERY_LIMIT", "1000")
	assert.Equal(t, MaxDeliveryLimit, Load().DeliveryLimit)

	t.Setenv("DELIVERY_LIMIT", "0")
	assert.Equal(t, MinDeliveryLimit, Load().DeliveryLimit)

	t.Setenv("DELIVERY_LIMIT", "not-a-number")
	assert.Equal(t, 5, Load().DeliveryLimit)
}

func TestSyncIntervalOverride(t *testing.T) {
	t.Setenv("SYNC_INTERVAL_SEC", "15")
	assert.Equal(t, 15*time.Second, Load().SyncInterval)
}
