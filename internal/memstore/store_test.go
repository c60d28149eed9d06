package memstore

import (
	"context"
	"io"
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

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func TestMemoryStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		return New(testLogger())
	})
}

func TestFileStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.Store {
		s, err := Open(filepath.Join(t.TempDir(), "data", "store.json"), testLogger())
		require.NoError(t, err)
		return s
	})
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)

	et := &models.EventType{OwnerID: "owner-1", Slug: "intro", Name: "Intro", DurationMinutes: 30, TimeZone: "UTC"}
	require.NoError(t, s.CreateEventType(ctx, et))

	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	created, err := storetest.Reserve(ctx, s, et, "g-1", [2]time.Time{start, start.Add(30 * time.Minute)})
	require.NoError(t, err)

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)

	got, err := reopened.GetBooking(ctx, created[0].ID)
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(start))
	assert.Equal(t, "g-1", got.RecurringGroupID)

	gotET, err := reopened.GetEventTypeBySlug(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, et.ID, gotET.ID)

	// ids keep counting after a reload
	next := &models.EventType{OwnerID: "owner-1", Slug: "second", DurationMinutes: 30, TimeZone: "UTC"}
	require.NoError(t, reopened.CreateEventType(ctx, next))
	assert.Greater(t, next.ID, et.ID)
}

func TestFileStoreKeepsProfilesAndRedirects(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	o := &models.Owner{ID: "owner-1", FullName: "Alice", ProfileSlug: "alice"}
	require.NoError(t, s.SaveProfile(ctx, o))
	o.ProfileSlug = "dr-alice"
	require.NoError(t, s.SaveProfile(ctx, o))

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	got, err := reopened.GetProfileBySlug(ctx, "dr-alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FullName)
	owner, err := reopened.RedirectOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", owner)
}

func TestFileStoreFailedPersistKeepsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	s, err := Open(path, testLogger())
	require.NoError(t, err)
	et := &models.EventType{OwnerID: "owner-1", Slug: "intro", DurationMinutes: 30, TimeZone: "UTC"}
	require.NoError(t, s.CreateEventType(ctx, et))

	// the atomic swap needs a writable directory
	s.path = filepath.Join(dir, "missing", "store.json")

	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	_, err = storetest.Reserve(ctx, s, et, "", [2]time.Time{start, start.Add(30 * time.Minute)})
	require.Error(t, err)

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Open(path, testLogger())
	assert.Error(t, err)
}

func TestWithOwnerLockHonorsContext(t *testing.T) {
	s := New(testLogger())
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = s.WithOwnerLock(context.Background(), "owner-1", func(tx domain.LedgerTx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
