package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlugTaken = errors.New("slug already taken")
)

type ValidationReason string

const (
	ReasonPastTime        ValidationReason = "past_time"
	ReasonNotAvailable    ValidationReason = "not_an_available_slot"
	ReasonMissingField    ValidationReason = "missing_field"
	ReasonInvalidDuration ValidationReason = "invalid_duration"
	ReasonInvalidZone     ValidationReason = "invalid_zone"
	ReasonInvalidDate     ValidationReason = "invalid_date"
	ReasonInvalidWindow   ValidationReason = "invalid_window"
	ReasonInvalidSlug     ValidationReason = "invalid_slug"
	ReasonReservedSlug    ValidationReason = "reserved_slug"
)

// ValidationError reports a request that can never succeed as sent.
type ValidationError struct {
	Reason         ValidationReason
	Field          string
	Message        string
	RequestedStart time.Time
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed (%s) on %s: %s", e.Reason, e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed (%s): %s", e.Reason, e.Message)
}

// ConflictError means a requested interval overlaps an existing booking.
// ConflictingStart is the start of the booking already on the calendar.
type ConflictError struct {
	ConflictingStart time.Time
	RequestedStart   time.Time
	BookingID        int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("time slot conflicts with booking %d starting %s", e.BookingID, e.ConflictingStart.UTC().Format(time.RFC3339))
}

func NewValidationError(reason ValidationReason, field, msg string) *ValidationError {
	return &ValidationError{Reason: reason, Field: field, Message: msg}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
