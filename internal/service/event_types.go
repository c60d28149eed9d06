package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timezone"

	"github.com/rs/zerolog"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// EventTypeChanges is a partial update of an event type; nil fields are kept.
type EventTypeChanges struct {
	Name            *string                      `json:"name,omitempty"`
	Description     *string                      `json:"description,omitempty"`
	Location        *string                      `json:"location,omitempty"`
	Slug            *string                      `json:"slug,omitempty"`
	DurationMinutes *int                         `json:"durationMinutes,omitempty"`
	TimeZone        *string                      `json:"timeZone,omitempty"`
	Availability    *[]models.AvailabilityWindow `json:"availability,omitempty"`
	AllowRecurring  *bool                        `json:"allowRecurring,omitempty"`
	RecurringCount  *int                         `json:"recurringCount,omitempty"`
}

type EventTypeService struct {
	repo   domain.EventTypeRepository
	clock  *timezone.Clock
	logger *zerolog.Logger
}

func NewEventTypeService(repo domain.EventTypeRepository, clock *timezone.Clock, logger *zerolog.Logger) *EventTypeService {
	l := logger.With().Str("component", "event_types").Logger()
	return &EventTypeService{repo: repo, clock: clock, logger: &l}
}

// CreateEventType normalizes and validates et, then stores it for ownerID.
func (s *EventTypeService) CreateEventType(ctx context.Context, ownerID string, et *models.EventType) (*models.EventType, error) {
	next := et.Clone()
	next.ID = 0
	next.OwnerID = ownerID
	if next.DurationMinutes == 0 {
		next.DurationMinutes = models.DefaultDurationMinutes
	}
	if err := s.normalize(next); err != nil {
		return nil, err
	}
	if err := s.repo.CreateEventType(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Info().Str("owner_id", ownerID).Str("event_type", next.Slug).Int64("event_type_id", next.ID).Msg("Event type created")
	return next, nil
}

func (s *EventTypeService) UpdateEventType(ctx context.Context, ownerID string, id int64, changes EventTypeChanges) (*models.EventType, error) {
	current, err := s.GetEventType(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	if changes.Name != nil {
		next.Name = *changes.Name
	}
	if changes.Description != nil {
		next.Description = *changes.Description
	}
	if changes.Location != nil {
		next.Location = *changes.Location
	}
	if changes.Slug != nil {
		next.Slug = *changes.Slug
	}
	if changes.DurationMinutes != nil {
		next.DurationMinutes = *changes.DurationMinutes
	}
	if changes.TimeZone != nil {
		next.TimeZone = *changes.TimeZone
	}
	if changes.Availability != nil {
		next.Availability = append([]models.AvailabilityWindow(nil), (*changes.Availability)...)
	}
	if changes.AllowRecurring != nil {
		next.AllowRecurring = *changes.AllowRecurring
	}
	if changes.RecurringCount != nil {
		next.RecurringCount = *changes.RecurringCount
	}

	if err := s.normalize(next); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateEventType(ctx, next); err != nil {
		return nil, err
	}
	s.logger.Info().Str("owner_id", ownerID).Str("event_type", next.Slug).Int64("event_type_id", id).Msg("Event type updated")
	return next, nil
}

// GetEventType hides event types of other owners behind ErrNotFound.
func (s *EventTypeService) GetEventType(ctx context.Context, ownerID string, id int64) (*models.EventType, error) {
	et, err := s.repo.GetEventType(ctx, id)
	if err != nil {
		return nil, err
	}
	if et.OwnerID != ownerID {
		return nil, fmt.Errorf("event type %d: %w", id, domain.ErrNotFound)
	}
	return et, nil
}

func (s *EventTypeService) ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error) {
	return s.repo.ListEventTypes(ctx, ownerID)
}

// PublicEventType looks an event type up by its public slug.
func (s *EventTypeService) PublicEventType(ctx context.Context, slug string) (*models.EventType, error) {
	return s.repo.GetEventTypeBySlug(ctx, slug)
}

// SeedEventTypes creates every event type whose slug is not yet used.
// It returns how many were created.
func (s *EventTypeService) SeedEventTypes(ctx context.Context, seeds []*models.EventType) (int, error) {
	created := 0
	for _, et := range seeds {
		if strings.TrimSpace(et.OwnerID) == "" {
			return created, domain.NewValidationError(domain.ReasonMissingField, "owner_id", fmt.Sprintf("seed %q has no owner", et.Slug))
		}
		_, err := s.CreateEventType(ctx, et.OwnerID, et)
		if errors.Is(err, domain.ErrSlugTaken) {
			s.logger.Debug().Str("event_type", et.Slug).Msg("Seed skipped, slug exists")
			continue
		}
		if err != nil {
			return created, fmt.Errorf("seed %q: %w", et.Slug, err)
		}
		created++
	}
	return created, nil
}

func (s *EventTypeService) normalize(et *models.EventType) error {
	et.Name = strings.TrimSpace(et.Name)
	et.TimeZone = strings.TrimSpace(et.TimeZone)
	et.Slug = strings.ToLower(strings.TrimSpace(et.Slug))

	if et.Name == "" {
		return domain.NewValidationError(domain.ReasonMissingField, "name", "name is required")
	}
	if !slugPattern.MatchString(et.Slug) {
		return domain.NewValidationError(domain.ReasonInvalidSlug, "slug", "slug may contain only lowercase letters, digits and dashes")
	}
	if models.IsReservedSlug(et.Slug) {
		return domain.NewValidationError(domain.ReasonReservedSlug, "slug", fmt.Sprintf("slug %q is reserved", et.Slug))
	}
	if err := validateDuration(et.DurationMinutes); err != nil {
		return err
	}
	if et.TimeZone == "" {
		return domain.NewValidationError(domain.ReasonMissingField, "timeZone", "timeZone is required")
	}
	if _, err := s.clock.Location(et.TimeZone); err != nil {
		return domain.NewValidationError(domain.ReasonInvalidZone, "timeZone", err.Error())
	}
	for i, w := range et.Availability {
		if err := validateWindow(w); err != nil {
			return domain.NewValidationError(domain.ReasonInvalidWindow, fmt.Sprintf("availability[%d]", i), err.Error())
		}
	}
	et.RecurringCount = models.ClampRecurringCount(et.RecurringCount)
	return nil
}

func validateDuration(minutes int) error {
	if minutes <= 0 || minutes > models.MaxDurationMinutes {
		return domain.NewValidationError(domain.ReasonInvalidDuration, "durationMinutes",
			fmt.Sprintf("durationMinutes must be between 1 and %d", models.MaxDurationMinutes))
	}
	return nil
}

func validateWindow(w models.AvailabilityWindow) error {
	if !w.Day.Valid() {
		return fmt.Errorf("day %d out of range 0..6", int(w.Day))
	}
	start, err := w.StartMinutes()
	if err != nil {
		return err
	}
	end, err := w.EndMinutes()
	if err != nil {
		return err
	}
	if start >= end {
		return fmt.Errorf("start %s must be before end %s", w.Start, w.End)
	}
	return nil
}
