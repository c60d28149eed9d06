package domain

import (
	"context"
	"time"

	"slotkeeper/internal/models"
)

type EventTypeRepository interface {
	CreateEventType(ctx context.Context, et *models.EventType) error
	UpdateEventType(ctx context.Context, et *models.EventType) error
	GetEventType(ctx context.Context, id int64) (*models.EventType, error)
	GetEventTypeBySlug(ctx context.Context, slug string) (*models.EventType, error)
	ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error)
}

// BookingLedger is the read side of the booking store. Intervals are
// half-open and every query is scoped to one owner.
type BookingLedger interface {
	// FindOverlapping returns one booking of ownerID intersecting [start, end),
	// ignoring excludeID (0 excludes nothing). It returns nil, nil if none.
	FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error)
	BookingsIntersecting(ctx context.Context, ownerID string, rangeStart, rangeEnd time.Time) ([]*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	ListBookings(ctx context.Context, ownerID string) ([]*models.Booking, error)
	ListRecurringGroup(ctx context.Context, groupID string) ([]*models.Booking, error)
}

// LedgerTx is the view of the ledger available inside an owner's critical
// section. Writes become visible to others only when the section commits.
type LedgerTx interface {
	FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	InsertBooking(ctx context.Context, b *models.Booking) error
	UpdateBooking(ctx context.Context, b *models.Booking) error
}

// ProfileRepository keeps owner profiles and the redirects left behind when
// a profile slug changes. Slugs are stored lowercased.
type ProfileRepository interface {
	GetProfile(ctx context.Context, ownerID string) (*models.Owner, error)
	GetProfileBySlug(ctx context.Context, slug string) (*models.Owner, error)
	// SaveProfile inserts or replaces the profile of o.ID. If the stored slug
	// differs from o.ProfileSlug, the old slug becomes a redirect to the owner
	// in the same write, and a redirect of the owner's own matching the new
	// slug is dropped. ErrSlugTaken when the new slug is the profile slug or
	// a redirect of another owner.
	SaveProfile(ctx context.Context, o *models.Owner) error
	// RedirectOwner returns the owner a retired slug points at.
	RedirectOwner(ctx context.Context, slug string) (string, error)
}

// Store is implemented by every persistence backend.
type Store interface {
	EventTypeRepository
	BookingLedger
	ProfileRepository

	// WithOwnerLock runs fn while holding the exclusive write section for
	// ownerID. A nil return commits everything fn did; an error or panic
	// discards it. The section is released on every exit path.
	WithOwnerLock(ctx context.Context, ownerID string, fn func(tx LedgerTx) error) error
	DeleteBooking(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
	Close() error
}

// Notification is handed to the notifier after a reservation commits.
type Notification struct {
	EventType *models.EventType
	Owner     *models.Owner
	Bookings  []*models.Booking
}

type Notifier interface {
	NotifyBookingCreated(ctx context.Context, n Notification) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type RateLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type OwnerDirectory interface {
	GetOwner(ctx context.Context, ownerID string) (*models.Owner, error)
}
