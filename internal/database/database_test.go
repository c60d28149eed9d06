package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/storetest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return setupTestDB(t)
	})
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "db_test_dir")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_InMemory(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	et := &models.EventType{OwnerID: "owner-1", Slug: "mem", DurationMinutes: 30, TimeZone: "UTC"}
	require.NoError(t, db.CreateEventType(ctx, et))

	got, err := db.GetEventTypeBySlug(ctx, "mem")
	require.NoError(t, err)
	assert.Equal(t, et.ID, got.ID)
	assert.Empty(t, got.Availability)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))
}

func TestSchemaRejectsInvertedInterval(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	et := &models.EventType{OwnerID: "owner-1", Slug: "check", DurationMinutes: 30, TimeZone: "UTC"}
	require.NoError(t, db.CreateEventType(ctx, et))

	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	err := db.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
		return tx.InsertBooking(ctx, &models.Booking{
			EventTypeID: et.ID,
			OwnerID:     "owner-1",
			StartAt:     start,
			EndAt:       start,
		})
	})
	assert.Error(t, err)
}

func TestWithOwnerLockCanceledContext(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := db.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
}

func TestClosedDBErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(filepath.Join(t.TempDir(), "closed.db"), &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	ctx := context.Background()
	_, err = db.ListBookings(ctx, "owner-1")
	assert.Error(t, err)
	_, err = db.GetEventType(ctx, 1)
	assert.Error(t, err)
	assert.Error(t, db.Ping(ctx))
	assert.Error(t, db.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error { return nil }))
}
