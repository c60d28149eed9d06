package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"

	"github.com/rs/zerolog"
)

// BookingService serves the owner's calendar: reads, edits and deletes.
// Every call is scoped to ownerID; a booking of another owner is not found.
type BookingService struct {
	store    domain.Store
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewBookingService(store domain.Store, eventBus domain.EventPublisher, logger *zerolog.Logger) *BookingService {
	l := logger.With().Str("component", "bookings").Logger()
	return &BookingService{store: store, eventBus: eventBus, logger: &l}
}

func (s *BookingService) GetBooking(ctx context.Context, ownerID string, id int64) (*models.BookingView, error) {
	b, err := s.ownedBooking(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	names, err := s.eventTypeNames(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var group []*models.Booking
	if b.RecurringGroupID != "" {
		group, err = s.store.ListRecurringGroup(ctx, b.RecurringGroupID)
		if err != nil {
			return nil, fmt.Errorf("load recurring group: %w", err)
		}
	}
	return buildView(b, names, group), nil
}

// ListBookings returns every booking of the owner ordered by start.
func (s *BookingService) ListBookings(ctx context.Context, ownerID string) ([]*models.BookingView, error) {
	list, err := s.store.ListBookings(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	names, err := s.eventTypeNames(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*models.Booking)
	for _, b := range list {
		if b.RecurringGroupID != "" {
			groups[b.RecurringGroupID] = append(groups[b.RecurringGroupID], b)
		}
	}

	out := make([]*models.BookingView, 0, len(list))
	for _, b := range list {
		out = append(out, buildView(b, names, groups[b.RecurringGroupID]))
	}
	return out, nil
}

// UpdateBooking applies changes and re-checks the new interval against every
// other booking of the owner inside the owner's write section.
func (s *BookingService) UpdateBooking(ctx context.Context, ownerID string, id int64, changes models.BookingChanges) (*models.Booking, error) {
	if err := validateChanges(changes); err != nil {
		metrics.IncMutation("update", "invalid")
		return nil, err
	}

	var updated *models.Booking
	err := s.store.WithOwnerLock(ctx, ownerID, func(tx domain.LedgerTx) error {
		current, err := tx.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if current.OwnerID != ownerID {
			return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
		}

		next := applyChanges(current, changes)
		if !next.EndAt.After(next.StartAt) {
			return domain.NewValidationError(domain.ReasonInvalidDuration, "durationMinutes", "booking must end after it starts")
		}
		hit, err := tx.FindOverlapping(ctx, ownerID, next.StartAt, next.EndAt, next.ID)
		if err != nil {
			return err
		}
		if hit != nil {
			return &domain.ConflictError{ConflictingStart: hit.StartAt, RequestedStart: next.StartAt, BookingID: hit.ID}
		}
		if err := tx.UpdateBooking(ctx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		metrics.IncMutation("update", outcome(err))
		if domain.IsConflict(err) || domain.IsValidation(err) || errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update booking %d: %w", id, err)
	}

	metrics.IncMutation("update", "ok")
	s.logger.Info().Str("owner_id", ownerID).Int64("booking_id", id).Msg("Booking updated")
	s.publish(events.EventBookingUpdated, updated)
	return updated, nil
}

// DeleteBooking removes the booking without re-validation.
func (s *BookingService) DeleteBooking(ctx context.Context, ownerID string, id int64) error {
	b, err := s.ownedBooking(ctx, ownerID, id)
	if err != nil {
		metrics.IncMutation("delete", outcome(err))
		return err
	}
	if err := s.store.DeleteBooking(ctx, id); err != nil {
		metrics.IncMutation("delete", outcome(err))
		return err
	}
	metrics.IncMutation("delete", "ok")
	s.logger.Info().Str("owner_id", ownerID).Int64("booking_id", id).Msg("Booking deleted")
	s.publish(events.EventBookingDeleted, b)
	return nil
}

func (s *BookingService) ownedBooking(ctx context.Context, ownerID string, id int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *BookingService) eventTypeNames(ctx context.Context, ownerID string) (map[int64]string, error) {
	ets, err := s.store.ListEventTypes(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list event types: %w", err)
	}
	names := make(map[int64]string, len(ets))
	for _, et := range ets {
		names[et.ID] = et.Name
	}
	return names, nil
}

func (s *BookingService) publish(eventType string, b *models.Booking) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, bookingPayload(b, "", "owner")); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

// buildView expects group sorted by start.
func buildView(b *models.Booking, names map[int64]string, group []*models.Booking) *models.BookingView {
	v := &models.BookingView{
		Booking:       *b,
		EventTypeName: names[b.EventTypeID],
		FullName:      b.FullName(),
	}
	if b.RecurringGroupID != "" && len(group) > 0 {
		for i, g := range group {
			if g.ID == b.ID {
				v.RecurringSession = &models.RecurringSession{Index: i + 1, Total: len(group)}
				break
			}
		}
	}
	return v
}

func validateChanges(c models.BookingChanges) error {
	required := []struct {
		field string
		value *string
	}{
		{"firstName", c.FirstName},
		{"lastName", c.LastName},
		{"email", c.Email},
		{"phone", c.Phone},
	}
	for _, r := range required {
		if r.value != nil && strings.TrimSpace(*r.value) == "" {
			return domain.NewValidationError(domain.ReasonMissingField, r.field, r.field+" must not be empty")
		}
	}
	if c.DurationMinutes != nil {
		if err := validateDuration(*c.DurationMinutes); err != nil {
			return err
		}
	}
	if c.StartAt != nil {
		if c.StartAt.IsZero() {
			return domain.NewValidationError(domain.ReasonInvalidDate, "startTime", "startTime must be a valid instant")
		}
		// starts are stored at whole-minute precision
		if !c.StartAt.Truncate(time.Minute).Equal(*c.StartAt) {
			return domain.NewValidationError(domain.ReasonInvalidDate, "startTime", "startTime must fall on a whole minute")
		}
	}
	return nil
}

// applyChanges returns a copy with end recomputed as start + duration.
func applyChanges(b *models.Booking, c models.BookingChanges) *models.Booking {
	next := b.Clone()
	if c.StartAt != nil {
		next.StartAt = c.StartAt.UTC()
	}
	if c.DurationMinutes != nil {
		next.DurationMinutes = *c.DurationMinutes
	}
	if next.DurationMinutes <= 0 {
		next.DurationMinutes = int(b.EndAt.Sub(b.StartAt) / time.Minute)
	}
	next.EndAt = next.StartAt.Add(time.Duration(next.DurationMinutes) * time.Minute)

	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&next.FirstName, c.FirstName)
	set(&next.LastName, c.LastName)
	set(&next.Email, c.Email)
	set(&next.Phone, c.Phone)
	if c.Notes != nil {
		next.Notes = *c.Notes
	}
	return next
}
