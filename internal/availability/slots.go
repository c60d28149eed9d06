package availability

import (
	"context"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timezone"

	"github.com/rs/zerolog"
)

// SlotService answers "which starts can still be booked on this date".
// It only reads; correctness under races is enforced at reservation time.
type SlotService struct {
	eventTypes domain.EventTypeRepository
	ledger     domain.BookingLedger
	resolver   *Resolver
	clock      *timezone.Clock
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewSlotService(
	eventTypes domain.EventTypeRepository,
	ledger domain.BookingLedger,
	resolver *Resolver,
	clock *timezone.Clock,
	now func() time.Time,
	logger *zerolog.Logger,
) *SlotService {
	if now == nil {
		now = time.Now
	}
	l := logger.With().Str("component", "availability").Logger()
	return &SlotService{
		eventTypes: eventTypes,
		ledger:     ledger,
		resolver:   resolver,
		clock:      clock,
		now:        now,
		logger:     &l,
	}
}

// AvailableSlots looks up the event type by slug and returns its free slots on date.
func (s *SlotService) AvailableSlots(ctx context.Context, slug string, date timezone.Date) ([]time.Time, error) {
	et, err := s.eventTypes.GetEventTypeBySlug(ctx, slug)
	if err != nil {
		metrics.IncSlotQuery("not_found")
		return nil, err
	}
	slots, err := s.AvailableSlotsFor(ctx, et, date)
	if err != nil {
		metrics.IncSlotQuery("error")
		return nil, err
	}
	metrics.IncSlotQuery("ok")
	return slots, nil
}

// AvailableSlotsFor filters the candidates of date: a start at or before now
// is dropped, as is any slot intersecting an existing booking of the owner.
// "now" is the server clock compared in absolute time.
func (s *SlotService) AvailableSlotsFor(ctx context.Context, et *models.EventType, date timezone.Date) ([]time.Time, error) {
	candidates := s.resolver.ResolveCandidates(et, date)
	if len(candidates) == 0 {
		return []time.Time{}, nil
	}

	dayStart, dayEnd, err := s.clock.DayBounds(et.TimeZone, date)
	if err != nil {
		return []time.Time{}, nil
	}
	// a slot near midnight can spill into the next day
	rangeEnd := dayEnd
	if last := candidates[len(candidates)-1].Add(et.Duration()); last.After(rangeEnd) {
		rangeEnd = last
	}

	busy, err := s.ledger.BookingsIntersecting(ctx, et.OwnerID, dayStart, rangeEnd)
	if err != nil {
		return nil, fmt.Errorf("load bookings for %s: %w", date, err)
	}

	now := s.now()
	out := make([]time.Time, 0, len(candidates))
	for _, c := range candidates {
		if !c.After(now) {
			continue
		}
		end := c.Add(et.Duration())
		taken := false
		for _, b := range busy {
			if b.Overlaps(c, end) {
				taken = true
				break
			}
		}
		if !taken {
			out = append(out, c)
		}
	}

	s.logger.Debug().
		Str("event_type", et.Slug).
		Str("date", date.String()).
		Int("candidates", len(candidates)).
		Int("available", len(out)).
		Msg("Slots resolved")
	return out, nil
}
