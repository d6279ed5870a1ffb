package migration

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations_OrdersAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"V2__create_listing_events.sql": {Data: []byte("CREATE TABLE listing_events (id uuid);")},
		"V1__create_listings.sql":       {Data: []byte("CREATE TABLE listings (id uuid);")},
		"README.md":                     {Data: []byte("not a migration")},
		"v3__lowercase.sql":             {Data: []byte("SELECT 1;")},
	}

	migs, err := loadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, int64(1), migs[0].Version)
	assert.Equal(t, "create_listings", migs[0].Name)
	assert.Equal(t, int64(2), migs[1].Version)
	assert.NotEmpty(t, migs[0].Checksum)
	assert.NotEqual(t, migs[0].Checksum, migs[1].Checksum)
}

func TestLoadMigrations_RejectsDuplicatesAndEmpty(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{
		"V1__a.sql": {Data: []byte("SELECT 1;")},
		"V1__b.sql": {Data: []byte("SELECT 2;")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate migration version")

	_, err = loadMigrations(fstest.MapFS{"V1__empty.sql": {Data: []byte("  \n")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty migration file")
}

func TestLoadMigrations_EmptyFS(t *testing.T) {
	migs, err := loadMigrations(fstest.MapFS{})
	require.NoError(t, err)
	assert.Empty(t, migs)
}

func TestPlan(t *testing.T) {
	migs := []Migration{
		{Version: 1, Name: "create_listings", Checksum: "aa"},
		{Version: 2, Name: "create_listing_events", Checksum: "bb"},
		{Version: 3, Name: "create_sync_runs", Checksum: "cc"},
	}
	applied := map[int64]appliedMigration{
		1: {Version: 1, Checksum: "aa"},
		2: {Version: 2, Checksum: "edited"},
	}

	got := plan(migs, applied)
	assert.Equal(t, []Status{
		{Version: 1, Name: "create_listings", State: StateApplied},
		{Version: 2, Name: "create_listing_events", State: StateChecksumMismatch},
		{Version: 3, Name: "create_sync_runs", State: StatePending},
	}, got)
}
