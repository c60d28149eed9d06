// Package storetest holds the behavior every domain.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store; cleanup is registered on t.
type Factory func(t *testing.T) domain.Store

var base = time.Date(2030, time.January, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

// Run executes the whole suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("EventTypes", func(t *testing.T) { testEventTypes(t, newStore(t)) })
	t.Run("LedgerQueries", func(t *testing.T) { testLedgerQueries(t, newStore(t)) })
	t.Run("OwnerScope", func(t *testing.T) { testOwnerScope(t, newStore(t)) })
	t.Run("ConcurrentReserve", func(t *testing.T) { testConcurrentReserve(t, newStore(t)) })
	t.Run("RecurringAtomicity", func(t *testing.T) { testRecurringAtomicity(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollbackOnError(t, newStore(t)) })
	t.Run("ReleaseOnPanic", func(t *testing.T) { testReleaseOnPanic(t, newStore(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newStore(t)) })
	t.Run("OverlapLaw", func(t *testing.T) { testOverlapLaw(t, newStore(t)) })
	t.Run("Profiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("SlugRedirects", func(t *testing.T) { testSlugRedirects(t, newStore(t)) })
}

func newEventType(owner, slug string) *models.EventType {
	return &models.EventType{
		OwnerID:         owner,
		Slug:            slug,
		Name:            "Session " + slug,
		DurationMinutes: 30,
		TimeZone:        "UTC",
		Availability: []models.AvailabilityWindow{
			{Day: models.Tuesday, Start: "09:00", End: "17:00"},
		},
	}
}

func mustEventType(t *testing.T, s domain.Store, owner, slug string) *models.EventType {
	t.Helper()
	et := newEventType(owner, slug)
	require.NoError(t, s.CreateEventType(context.Background(), et))
	require.NotZero(t, et.ID)
	return et
}

func booking(et *models.EventType, start, end time.Time) *models.Booking {
	return &models.Booking{
		EventTypeID:     et.ID,
		OwnerID:         et.OwnerID,
		StartAt:         start,
		EndAt:           end,
		DurationMinutes: int(end.Sub(start) / time.Minute),
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.com",
		Phone:           "+100000000",
	}
}

// Reserve checks and inserts all intervals in one owner section, the way
// the reservation coordinator does.
func Reserve(ctx context.Context, s domain.Store, et *models.EventType, group string, intervals ...[2]time.Time) ([]*models.Booking, error) {
	var created []*models.Booking
	err := s.WithOwnerLock(ctx, et.OwnerID, func(tx domain.LedgerTx) error {
		for _, iv := range intervals {
			hit, err := tx.FindOverlapping(ctx, et.OwnerID, iv[0], iv[1], 0)
			if err != nil {
				return err
			}
			if hit != nil {
				return &domain.ConflictError{ConflictingStart: hit.StartAt, RequestedStart: iv[0], BookingID: hit.ID}
			}
		}
		for _, iv := range intervals {
			b := booking(et, iv[0], iv[1])
			b.RecurringGroupID = group
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
			created = append(created, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func span(startMin, endMin int) [2]time.Time {
	return [2]time.Time{at(startMin), at(endMin)}
}

func testEventTypes(t *testing.T, s domain.Store) {
	ctx := context.Background()

	et := mustEventType(t, s, "owner-1", "Intro-Call")
	assert.Equal(t, "intro-call", et.Slug)

	dup := newEventType("owner-2", "intro-call")
	assert.ErrorIs(t, s.CreateEventType(ctx, dup), domain.ErrSlugTaken)

	got, err := s.GetEventTypeBySlug(ctx, " INTRO-call ")
	require.NoError(t, err)
	assert.Equal(t, et.ID, got.ID)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, 30, got.DurationMinutes)
	assert.Equal(t, et.Availability, got.Availability)

	byID, err := s.GetEventType(ctx, et.ID)
	require.NoError(t, err)
	assert.Equal(t, "Session Intro-Call", byID.Name)

	mustEventType(t, s, "owner-1", "deep-dive")
	mustEventType(t, s, "owner-2", "other")

	list, err := s.ListEventTypes(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "intro-call", list[0].Slug)
	assert.Equal(t, "deep-dive", list[1].Slug)

	got.Name = "Renamed"
	got.DurationMinutes = 45
	got.AllowRecurring = true
	got.RecurringCount = 4
	require.NoError(t, s.UpdateEventType(ctx, got))
	updated, err := s.GetEventType(ctx, et.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 45, updated.DurationMinutes)
	assert.True(t, updated.AllowRecurring)
	assert.Equal(t, 4, updated.RecurringCount)

	updated.Slug = "deep-dive"
	assert.ErrorIs(t, s.UpdateEventType(ctx, updated), domain.ErrSlugTaken)

	_, err = s.GetEventType(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.GetEventTypeBySlug(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.UpdateEventType(ctx, &models.EventType{ID: 9999, Slug: "x"}), domain.ErrNotFound)
}

func testLedgerQueries(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "queries")

	first, err := Reserve(ctx, s, et, "", span(0, 30))
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotZero(t, first[0].ID)

	group, err := Reserve(ctx, s, et, "group-1", span(60, 90), span(60+7*24*60, 90+7*24*60))
	require.NoError(t, err)
	require.Len(t, group, 2)
	assert.NotEqual(t, group[0].ID, group[1].ID)

	got, err := s.GetBooking(ctx, first[0].ID)
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(at(0)))
	assert.True(t, got.EndAt.Equal(at(30)))
	assert.Equal(t, et.ID, got.EventTypeID)
	assert.Equal(t, "owner-1", got.OwnerID)
	assert.Equal(t, "Ada", got.FirstName)
	assert.Equal(t, "ada@example.com", got.Email)
	assert.Equal(t, 30, got.DurationMinutes)

	hit, err := s.FindOverlapping(ctx, "owner-1", at(15), at(45), 0)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, first[0].ID, hit.ID)

	hit, err = s.FindOverlapping(ctx, "owner-1", at(30), at(60), 0)
	require.NoError(t, err)
	assert.Nil(t, hit, "touching intervals do not overlap")

	hit, err = s.FindOverlapping(ctx, "owner-1", at(0), at(30), first[0].ID)
	require.NoError(t, err)
	assert.Nil(t, hit, "excluded booking is ignored")

	day, err := s.BookingsIntersecting(ctx, "owner-1", at(-9*60), at(15*60))
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.True(t, day[0].StartAt.Before(day[1].StartAt))

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.False(t, all[i].StartAt.Before(all[i-1].StartAt))
	}

	members, err := s.ListRecurringGroup(ctx, "group-1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, group[0].ID, members[0].ID)

	empty, err := s.ListRecurringGroup(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.GetBooking(ctx, 424242)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testOwnerScope(t *testing.T, s domain.Store) {
	ctx := context.Background()
	a1 := mustEventType(t, s, "owner-a", "a-one")
	a2 := mustEventType(t, s, "owner-a", "a-two")
	b1 := mustEventType(t, s, "owner-b", "b-one")

	_, err := Reserve(ctx, s, a1, "", span(0, 30))
	require.NoError(t, err)

	_, err = Reserve(ctx, s, b1, "", span(0, 30))
	assert.NoError(t, err, "another owner's calendar is independent")

	_, err = Reserve(ctx, s, a2, "", span(15, 45))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict, "same owner across event types conflicts")
	assert.True(t, conflict.ConflictingStart.Equal(at(0)))
}

func testConcurrentReserve(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "race")

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := Reserve(ctx, s, et, "", span(0, 30))
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, conflicts int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case domain.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testRecurringAtomicity(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "weekly")
	week := 7 * 24 * 60

	_, err := Reserve(ctx, s, et, "", span(week, week+30))
	require.NoError(t, err)

	_, err = Reserve(ctx, s, et, "group-x", span(0, 30), span(week, week+30), span(2*week, 2*week+30))
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, conflict.ConflictingStart.Equal(at(week)))

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, all, 1, "no sibling of a failed group is committed")

	members, err := s.ListRecurringGroup(ctx, "group-x")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testRollbackOnError(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "rollback")
	boom := errors.New("boom")

	err := s.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
		require.NoError(t, tx.InsertBooking(ctx, booking(et, at(0), at(30))))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, all)

	assertLockFree(t, s, et)
}

func testReleaseOnPanic(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "panic")

	assert.Panics(t, func() {
		_ = s.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
			_ = tx.InsertBooking(ctx, booking(et, at(0), at(30)))
			panic("step failed inside critical section")
		})
	})

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, all)

	assertLockFree(t, s, et)
}

func assertLockFree(t *testing.T, s domain.Store, et *models.EventType) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	created, err := Reserve(ctx, s, et, "", span(0, 30))
	require.NoError(t, err, "owner section must be free again")
	assert.Len(t, created, 1)
}

func testUpdateAndDelete(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "mutate")

	created, err := Reserve(ctx, s, et, "", span(0, 30), span(60, 90))
	require.NoError(t, err)
	first, second := created[0], created[1]

	err = s.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
		b, err := tx.GetBooking(ctx, first.ID)
		if err != nil {
			return err
		}
		b.StartAt, b.EndAt = at(120), at(165)
		b.DurationMinutes = 45
		b.Notes = "moved"
		return tx.UpdateBooking(ctx, b)
	})
	require.NoError(t, err)

	got, err := s.GetBooking(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.StartAt.Equal(at(120)))
	assert.True(t, got.EndAt.Equal(at(165)))
	assert.Equal(t, 45, got.DurationMinutes)
	assert.Equal(t, "moved", got.Notes)

	hit, err := s.FindOverlapping(ctx, "owner-1", at(0), at(30), 0)
	require.NoError(t, err)
	assert.Nil(t, hit, "old interval is free after the move")

	require.NoError(t, s.DeleteBooking(ctx, second.ID))
	_, err = s.GetBooking(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBooking(ctx, second.ID), domain.ErrNotFound)

	err = s.WithOwnerLock(ctx, "owner-1", func(tx domain.LedgerTx) error {
		return tx.UpdateBooking(ctx, &models.Booking{ID: second.ID, OwnerID: "owner-1", StartAt: at(0), EndAt: at(30)})
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Ping(ctx))
}

func testOverlapLaw(t *testing.T, s domain.Store) {
	ctx := context.Background()
	et := mustEventType(t, s, "owner-1", "law")

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 15; i++ {
				startMin := rng.Intn(8*60) / 15 * 15
				length := 15 * (1 + rng.Intn(4))
				_, err := Reserve(ctx, s, et, "", span(startMin, startMin+length))
				if err != nil && !domain.IsConflict(err) {
					t.Errorf("reserve: %v", err)
				}
			}
		}(int64(w))
	}
	wg.Wait()

	all, err := s.ListBookings(ctx, "owner-1")
	require.NoError(t, err)
	require.NotEmpty(t, all)
	for i := range all {
		for j := i + 1; j < len(all); j++ {
			assert.False(t, all[i].Overlaps(all[j].StartAt, all[j].EndAt),
				fmt.Sprintf("bookings %d and %d overlap", all[i].ID, all[j].ID))
		}
	}
}

func testProfiles(t *testing.T, s domain.Store) {
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "owner-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	alice := &models.Owner{ID: "owner-1", FullName: "Alice", Email: "alice@example.com", ProfileSlug: " Alice "}
	require.NoError(t, s.SaveProfile(ctx, alice))
	assert.Equal(t, "alice", alice.ProfileSlug)
	assert.False(t, alice.CreatedAt.IsZero())

	got, err := s.GetProfile(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FullName)
	assert.Equal(t, "alice@example.com", got.Email)

	bySlug, err := s.GetProfileBySlug(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", bySlug.ID)

	bob := &models.Owner{ID: "owner-2", FullName: "Bob", ProfileSlug: "alice"}
	assert.ErrorIs(t, s.SaveProfile(ctx, bob), domain.ErrSlugTaken)
	bob.ProfileSlug = "bob"
	require.NoError(t, s.SaveProfile(ctx, bob))

	got.FullName = "Alice Liddell"
	got.TimeZone = "Europe/Berlin"
	require.NoError(t, s.SaveProfile(ctx, got))
	again, err := s.GetProfile(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", again.FullName)
	assert.Equal(t, "Europe/Berlin", again.TimeZone)
	assert.True(t, again.CreatedAt.Equal(alice.CreatedAt))

	// Saving without a slug change leaves no redirect behind.
	_, err = s.RedirectOwner(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testSlugRedirects(t *testing.T, s domain.Store) {
	ctx := context.Background()

	alice := &models.Owner{ID: "owner-1", FullName: "Alice", ProfileSlug: "alice"}
	require.NoError(t, s.SaveProfile(ctx, alice))
	bob := &models.Owner{ID: "owner-2", FullName: "Bob", ProfileSlug: "bob"}
	require.NoError(t, s.SaveProfile(ctx, bob))

	alice.ProfileSlug = "dr-alice"
	require.NoError(t, s.SaveProfile(ctx, alice))

	owner, err := s.RedirectOwner(ctx, "Alice")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", owner)
	_, err = s.GetProfileBySlug(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// A retired slug stays with its owner.
	bob.ProfileSlug = "alice"
	assert.ErrorIs(t, s.SaveProfile(ctx, bob), domain.ErrSlugTaken)
	stored, err := s.GetProfile(ctx, "owner-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.ProfileSlug)

	// The owner can take it back, which retires the current slug instead.
	alice.ProfileSlug = "alice"
	require.NoError(t, s.SaveProfile(ctx, alice))
	_, err = s.RedirectOwner(ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	owner, err = s.RedirectOwner(ctx, "dr-alice")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", owner)
}
