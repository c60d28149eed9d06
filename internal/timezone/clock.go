package timezone

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidZone      = errors.New("invalid time zone")
	ErrInvalidLocalTime = errors.New("invalid local time")
)

// Clock converts wall-clock times in named zones into absolute instants.
// Loaded locations are cached; offsets are always resolved per date by the
// location itself, never cached.
type Clock struct {
	mu    sync.RWMutex
	cache map[string]*time.Location
}

func NewClock() *Clock {
	return &Clock{cache: make(map[string]*time.Location)}
}

// Location loads and caches an IANA zone.
func (c *Clock) Location(zone string) (*time.Location, error) {
	name := strings.TrimSpace(zone)
	if name == "" {
		return nil, fmt.Errorf("%w: empty zone name", ErrInvalidZone)
	}

	c.mu.RLock()
	loc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidZone, name, err)
	}

	c.mu.Lock()
	c.cache[name] = loc
	c.mu.Unlock()
	return loc, nil
}

// ToInstant returns the absolute instant of hour:minute on date in zone.
// hour 24 with minute 0 means midnight at the end of date.
//
// Wall-clock times that do not exist on date (the skipped hour of a
// spring-forward transition) are rejected with ErrInvalidLocalTime.
func (c *Clock) ToInstant(zone string, date Date, hour, minute int) (time.Time, error) {
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return time.Time{}, fmt.Errorf("%w: %02d:%02d", ErrInvalidLocalTime, hour, minute)
	}
	loc, err := c.Location(zone)
	if err != nil {
		return time.Time{}, err
	}

	if hour == 24 {
		next := date.AddDays(1)
		return time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc), nil
	}

	t := time.Date(date.Year, date.Month, date.Day, hour, minute, 0, 0, loc)
	if t.Hour() != hour || t.Minute() != minute || DateOf(t) != date {
		return time.Time{}, fmt.Errorf("%w: %s %02d:%02d does not exist in %s", ErrInvalidLocalTime, date, hour, minute, loc)
	}
	return t, nil
}

// DayBounds returns [start, end) of date as observed in zone.
func (c *Clock) DayBounds(zone string, date Date) (time.Time, time.Time, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	next := date.AddDays(1)
	start := time.Date(date.Year, date.Month, date.Day, 0, 0, 0, 0, loc)
	end := time.Date(next.Year, next.Month, next.Day, 0, 0, 0, 0, loc)
	return start, end, nil
}

// LocalDate returns the calendar date of instant t in zone.
func (c *Clock) LocalDate(zone string, t time.Time) (Date, error) {
	loc, err := c.Location(zone)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t.In(loc)), nil
}
