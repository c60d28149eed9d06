package models

import (
	"strings"
	"time"
)

// Booking is one reserved interval [StartAt, EndAt) on an owner's calendar.
// OwnerID is copied from the event type at creation so ledger queries can be
// scoped to the owner without a join.
type Booking struct {
	ID               int64     `json:"id"`
	EventTypeID      int64     `json:"eventTypeId"`
	OwnerID          string    `json:"ownerId"`
	StartAt          time.Time `json:"startTime"`
	EndAt            time.Time `json:"endTime"`
	DurationMinutes  int       `json:"durationMinutes"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	RecurringGroupID string    `json:"recurringGroupId,omitempty"`
	Notes            string    `json:"notes"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Overlaps applies the half-open interval rule: [s1,e1) and [s2,e2) overlap
// iff s1 < e2 && e1 > s2.
func (b *Booking) Overlaps(start, end time.Time) bool {
	return Overlaps(b.StartAt, b.EndAt, start, end)
}

// FullName joins first and last name.
func (b *Booking) FullName() string {
	return strings.TrimSpace(b.FirstName + " " + b.LastName)
}

// Clone returns a copy safe to hand out of a store.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}

// Guest holds the client contact fields of a reservation request.
type Guest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Notes     string `json:"notes"`
}

// BookingChanges is a partial update. Nil fields are left untouched.
type BookingChanges struct {
	StartAt         *time.Time `json:"startTime,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	FirstName       *string    `json:"firstName,omitempty"`
	LastName        *string    `json:"lastName,omitempty"`
	Email           *string    `json:"email,omitempty"`
	Phone           *string    `json:"phone,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// RecurringSession locates a booking inside its recurring group (1-based).
type RecurringSession struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// BookingView is the read shape returned to the owner's calendar.
type BookingView struct {
	Booking
	EventTypeName    string            `json:"eventTypeName"`
	FullName         string            `json:"fullName"`
	RecurringSession *RecurringSession `json:"recurringSession"`
}

// Owner is the professional behind a set of event types. ProfileSlug is
// the public path segment of the profile and is unique across owners.
type Owner struct {
	ID          string    `json:"id"`
	FullName    string    `json:"fullName"`
	Email       string    `json:"email"`
	ProfileSlug string    `json:"profileSlug"`
	TimeZone    string    `json:"timeZone"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a copy of o, or nil.
func (o *Owner) Clone() *Owner {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}
