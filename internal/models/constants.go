package models

const (
	// MaxRecurringCount caps how many weekly sessions one reservation may create.
	MaxRecurringCount = 52

	// DefaultDurationMinutes is used when an event type is created without a duration.
	DefaultDurationMinutes = 30

	// MaxDurationMinutes bounds a single session to one day.
	MaxDurationMinutes = 24 * 60

	// DaysBetweenSessions is the fixed cadence of recurring bookings.
	DaysBetweenSessions = 7
)

// ReservedSlugs are path segments the booking UI owns; event types and
// profiles can never use them.
var ReservedSlugs = map[string]struct{}{
	"book":     {},
	"booking":  {},
	"bookings": {},
	"setup":    {},
	"api":      {},
	"auth":     {},
	"sign-in":  {},
	"sign-up":  {},
	"health":   {},
	"login":    {},
	"logout":   {},
	"signin":   {},
	"signup":   {},
	"new":      {},
	"edit":     {},
}

// IsReservedSlug reports whether slug collides with a reserved path segment.
func IsReservedSlug(slug string) bool {
	_, ok := ReservedSlugs[slug]
	return ok
}

// ClampRecurringCount forces n into [1, MaxRecurringCount].
func ClampRecurringCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxRecurringCount {
		return MaxRecurringCount
	}
	return n
}
