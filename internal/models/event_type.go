package models

import (
	"fmt"
	"time"
)

// Weekday numbers days the same way the booking UI does: 0=Sunday .. 6=Saturday.
// The values line up with time.Weekday so conversion is a plain cast.
type Weekday int

const (
	Sunday Weekday = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

// WeekdayOf converts a time.Weekday into the shared numbering.
func WeekdayOf(d time.Weekday) Weekday {
	return Weekday(d)
}

// Valid reports whether w is within [Sunday, Saturday].
func (w Weekday) Valid() bool {
	return w >= Sunday && w <= Saturday
}

func (w Weekday) String() string {
	if !w.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(w))
	}
	return time.Weekday(w).String()
}

// AvailabilityWindow is one weekly recurring block of bookable local time.
// Start and End are "HH:MM" wall-clock times in the event type's zone.
type AvailabilityWindow struct {
	Day   Weekday `json:"day" yaml:"day"`
	Start string  `json:"start" yaml:"start"`
	End   string  `json:"end" yaml:"end"`
}

// StartMinutes returns the window start as minutes after local midnight.
func (w AvailabilityWindow) StartMinutes() (int, error) {
	return ParseClock(w.Start)
}

// EndMinutes returns the window end as minutes after local midnight.
func (w AvailabilityWindow) EndMinutes() (int, error) {
	return ParseClock(w.End)
}

// EventType is a bookable link published by one owner.
type EventType struct {
	ID              int64                `json:"id" yaml:"-"`
	OwnerID         string               `json:"ownerId" yaml:"owner_id"`
	Slug            string               `json:"slug" yaml:"slug"`
	Name            string               `json:"name" yaml:"name"`
	Description     string               `json:"description" yaml:"description"`
	Location        string               `json:"location" yaml:"location"`
	DurationMinutes int                  `json:"durationMinutes" yaml:"duration_minutes"`
	TimeZone        string               `json:"timeZone" yaml:"time_zone"`
	Availability    []AvailabilityWindow `json:"availability" yaml:"availability"`
	AllowRecurring  bool                 `json:"allowRecurring" yaml:"allow_recurring"`
	RecurringCount  int                  `json:"recurringCount" yaml:"recurring_count"`
	CreatedAt       time.Time            `json:"createdAt" yaml:"-"`
	UpdatedAt       time.Time            `json:"updatedAt" yaml:"-"`
}

// Duration returns the slot length.
func (e *EventType) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}

// SessionCount is how many bookings a single reservation creates.
func (e *EventType) SessionCount() int {
	if !e.AllowRecurring {
		return 1
	}
	return ClampRecurringCount(e.RecurringCount)
}

// WindowsOn returns the windows declared for day, in declaration order.
func (e *EventType) WindowsOn(day Weekday) []AvailabilityWindow {
	var out []AvailabilityWindow
	for _, w := range e.Availability {
		if w.Day == day {
			out = append(out, w)
		}
	}
	return out
}

// ParseClock parses a 24h "HH:MM" string into minutes after midnight.
// "24:00" is accepted as end of day.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock %q: expected HH:MM", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid clock %q: expected HH:MM", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q: out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes after midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Clone returns a deep copy.
func (e *EventType) Clone() *EventType {
	if e == nil {
		return nil
	}
	c := *e
	c.Availability = append([]AvailabilityWindow(nil), e.Availability...)
	return &c
}
