package availability

import (
	"sort"
	"time"

	"slotkeeper/internal/models"
	"slotkeeper/internal/timezone"
)

// Resolver turns an event type's weekly windows into concrete slot starts.
type Resolver struct {
	clock *timezone.Clock
}

func NewResolver(clock *timezone.Clock) *Resolver {
	return &Resolver{clock: clock}
}

// ResolveCandidates returns every slot start on date, ascending and
// deduplicated by instant. Slots are tiled from each window start in steps
// of the event duration and never overshoot the window end. An invalid
// zone, non-positive duration or a weekday without windows yields nil.
func (r *Resolver) ResolveCandidates(et *models.EventType, date timezone.Date) []time.Time {
	if et == nil || et.DurationMinutes <= 0 {
		return nil
	}
	if _, err := r.clock.Location(et.TimeZone); err != nil {
		return nil
	}

	windows := et.WindowsOn(models.WeekdayOf(date.Weekday()))
	if len(windows) == 0 {
		return nil
	}

	seen := make(map[int64]struct{})
	var out []time.Time
	for _, w := range windows {
		start, err := w.StartMinutes()
		if err != nil {
			continue
		}
		end, err := w.EndMinutes()
		if err != nil {
			continue
		}
		for m := start; m+et.DurationMinutes <= end; m += et.DurationMinutes {
			instant, err := r.clock.ToInstant(et.TimeZone, date, m/60, m%60)
			if err != nil {
				// skipped wall-clock time on a DST transition day
				continue
			}
			key := instant.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, instant)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsCandidate reports whether instant is one of the generated slot starts
// for its own local date in the event type's zone.
func (r *Resolver) IsCandidate(et *models.EventType, instant time.Time) bool {
	if et == nil {
		return false
	}
	date, err := r.clock.LocalDate(et.TimeZone, instant)
	if err != nil {
		return false
	}
	for _, c := range r.ResolveCandidates(et, date) {
		if c.Equal(instant) {
			return true
		}
	}
	return false
}
