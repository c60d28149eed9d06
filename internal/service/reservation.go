package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/domain"
	"slotkeeper/internal/events"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timezone"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReservationRequest asks for the first session of a booking.
type ReservationRequest struct {
	EventTypeSlug string
	Start         time.Time
	Guest         models.Guest
}

// ReservationResult is returned once every session is committed.
// NotificationSent is a soft flag; a failed notification never fails the reservation.
type ReservationResult struct {
	Bookings         []*models.Booking
	EventType        *models.EventType
	RecurringGroupID string
	NotificationSent bool
}

type ReservationConfig struct {
	MaxRecurring        int
	NotificationTimeout time.Duration
	Now                 func() time.Time
}

// ReservationCoordinator validates requested sessions and commits them as
// one unit inside the owner's write section.
type ReservationCoordinator struct {
	store    domain.Store
	resolver *availability.Resolver
	clock    *timezone.Clock
	notifier domain.Notifier
	owners   domain.OwnerDirectory
	eventBus domain.EventPublisher
	cfg      ReservationConfig
	logger   *zerolog.Logger
}

func NewReservationCoordinator(
	store domain.Store,
	resolver *availability.Resolver,
	clock *timezone.Clock,
	notifier domain.Notifier,
	owners domain.OwnerDirectory,
	eventBus domain.EventPublisher,
	cfg ReservationConfig,
	logger *zerolog.Logger,
) *ReservationCoordinator {
	if cfg.MaxRecurring <= 0 || cfg.MaxRecurring > models.MaxRecurringCount {
		cfg.MaxRecurring = models.MaxRecurringCount
	}
	if cfg.NotificationTimeout <= 0 {
		cfg.NotificationTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := logger.With().Str("component", "reservation").Logger()
	return &ReservationCoordinator{
		store:    store,
		resolver: resolver,
		clock:    clock,
		notifier: notifier,
		owners:   owners,
		eventBus: eventBus,
		cfg:      cfg,
		logger:   &l,
	}
}

// Reserve creates one booking, or every weekly session of a recurring event
// type, or nothing at all.
func (c *ReservationCoordinator) Reserve(ctx context.Context, req ReservationRequest) (*ReservationResult, error) {
	et, err := c.store.GetEventTypeBySlug(ctx, req.EventTypeSlug)
	if err != nil {
		metrics.IncReservation(outcome(err))
		return nil, err
	}

	result, err := c.reserve(ctx, et, req)
	metrics.IncReservation(outcome(err))
	if err != nil {
		return nil, err
	}
	metrics.AddBookingsCreated(len(result.Bookings))

	result.NotificationSent = c.notify(ctx, et, result.Bookings)
	c.publishCreated(et, result.Bookings)
	return result, nil
}

func (c *ReservationCoordinator) reserve(ctx context.Context, et *models.EventType, req ReservationRequest) (*ReservationResult, error) {
	guest := trimGuest(req.Guest)
	if err := validateGuest(guest); err != nil {
		return nil, err
	}
	if et.DurationMinutes <= 0 {
		return nil, domain.NewValidationError(domain.ReasonInvalidDuration, "durationMinutes", "event type has no positive duration")
	}

	starts, err := c.sessionStarts(et, req.Start)
	if err != nil {
		return nil, err
	}

	now := c.cfg.Now()
	for _, s := range starts {
		if !s.After(now) {
			return nil, &domain.ValidationError{
				Reason:         domain.ReasonPastTime,
				Field:          "startTime",
				Message:        "cannot create booking in the past",
				RequestedStart: s,
			}
		}
	}
	for _, s := range starts {
		if !c.resolver.IsCandidate(et, s) {
			return nil, &domain.ValidationError{
				Reason:         domain.ReasonNotAvailable,
				Field:          "startTime",
				Message:        "requested time is not an available slot for this event type",
				RequestedStart: s,
			}
		}
	}

	groupID := ""
	if len(starts) > 1 {
		groupID = uuid.NewString()
	}

	var created []*models.Booking
	err = c.store.WithOwnerLock(ctx, et.OwnerID, func(tx domain.LedgerTx) error {
		for _, s := range starts {
			hit, err := tx.FindOverlapping(ctx, et.OwnerID, s, s.Add(et.Duration()), 0)
			if err != nil {
				return err
			}
			if hit != nil {
				return &domain.ConflictError{ConflictingStart: hit.StartAt, RequestedStart: s, BookingID: hit.ID}
			}
		}

		created = make([]*models.Booking, 0, len(starts))
		for _, s := range starts {
			b := &models.Booking{
				EventTypeID:      et.ID,
				OwnerID:          et.OwnerID,
				StartAt:          s.UTC(),
				EndAt:            s.Add(et.Duration()).UTC(),
				DurationMinutes:  et.DurationMinutes,
				FirstName:        guest.FirstName,
				LastName:         guest.LastName,
				Email:            guest.Email,
				Phone:            guest.Phone,
				Notes:            guest.Notes,
				RecurringGroupID: groupID,
			}
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
			created = append(created, b)
		}
		return nil
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			c.logger.Info().
				Str("owner_id", et.OwnerID).
				Str("event_type", et.Slug).
				Time("requested_start", conflict.RequestedStart).
				Time("conflicting_start", conflict.ConflictingStart).
				Msg("Reservation conflict")
			return nil, err
		}
		return nil, fmt.Errorf("reserve %s: %w", et.Slug, err)
	}

	c.logger.Info().
		Str("owner_id", et.OwnerID).
		Str("event_type", et.Slug).
		Int64("booking_id", created[0].ID).
		Str("recurring_group_id", groupID).
		Int("sessions", len(created)).
		Msg("Reservation committed")

	return &ReservationResult{Bookings: created, EventType: et, RecurringGroupID: groupID}, nil
}

// sessionStarts derives the weekly starts. Each sibling keeps the local
// wall-clock time of the first session, so DST changes shift the instant.
func (c *ReservationCoordinator) sessionStarts(et *models.EventType, first time.Time) ([]time.Time, error) {
	loc, err := c.clock.Location(et.TimeZone)
	if err != nil {
		return nil, domain.NewValidationError(domain.ReasonInvalidZone, "timeZone", err.Error())
	}
	count := et.SessionCount()
	if count > c.cfg.MaxRecurring {
		count = c.cfg.MaxRecurring
	}
	local := first.In(loc)
	starts := make([]time.Time, 0, count)
	for k := 0; k < count; k++ {
		starts = append(starts, local.AddDate(0, 0, models.DaysBetweenSessions*k))
	}
	return starts, nil
}

// notify runs after the owner section is released.
func (c *ReservationCoordinator) notify(ctx context.Context, et *models.EventType, created []*models.Booking) bool {
	if c.notifier == nil {
		metrics.IncNotification("skipped")
		return false
	}

	owner := &models.Owner{ID: et.OwnerID}
	if c.owners != nil {
		if o, err := c.owners.GetOwner(ctx, et.OwnerID); err == nil {
			owner = o
		} else {
			c.logger.Warn().Err(err).Str("owner_id", et.OwnerID).Msg("Owner lookup failed for notification")
		}
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.NotificationTimeout)
	defer cancel()

	err := c.notifier.NotifyBookingCreated(nctx, domain.Notification{EventType: et, Owner: owner, Bookings: created})
	if err != nil {
		metrics.IncNotification("failed")
		c.logger.Warn().Err(err).
			Str("owner_id", et.OwnerID).
			Int64("booking_id", created[0].ID).
			Msg("Booking notification failed")
		return false
	}
	metrics.IncNotification("sent")
	return true
}

func (c *ReservationCoordinator) publishCreated(et *models.EventType, created []*models.Booking) {
	if c.eventBus == nil {
		return
	}
	for _, b := range created {
		payload := bookingPayload(b, et.Slug, "guest")
		payload.SessionCount = len(created)
		if err := c.eventBus.PublishJSON(events.EventBookingCreated, payload); err != nil {
			c.logger.Error().Err(err).Str("event_type", events.EventBookingCreated).Int64("booking_id", b.ID).Msg("publish event error")
		}
	}
}

func bookingPayload(b *models.Booking, slug, changedBy string) events.BookingEventPayload {
	return events.BookingEventPayload{
		BookingID:        b.ID,
		EventTypeID:      b.EventTypeID,
		EventTypeSlug:    slug,
		OwnerID:          b.OwnerID,
		StartAt:          b.StartAt,
		EndAt:            b.EndAt,
		RecurringGroupID: b.RecurringGroupID,
		ChangedBy:        changedBy,
	}
}

func trimGuest(g models.Guest) models.Guest {
	return models.Guest{
		FirstName: strings.TrimSpace(g.FirstName),
		LastName:  strings.TrimSpace(g.LastName),
		Email:     strings.TrimSpace(g.Email),
		Phone:     strings.TrimSpace(g.Phone),
		Notes:     strings.TrimSpace(g.Notes),
	}
}

func validateGuest(g models.Guest) error {
	required := []struct{ field, value string }{
		{"firstName", g.FirstName},
		{"lastName", g.LastName},
		{"email", g.Email},
		{"phone", g.Phone},
	}
	for _, r := range required {
		if r.value == "" {
			return domain.NewValidationError(domain.ReasonMissingField, r.field, r.field+" is required")
		}
	}
	return nil
}

// outcome labels an error for the reservation counter.
func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsValidation(err):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
