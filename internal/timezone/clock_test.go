package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToInstantUsesOffsetOfDate(t *testing.T) {
	c := NewClock()

	winter, err := c.ToInstant("America/New_York", Date{2024, time.January, 16}, 9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC), winter.UTC())

	summer, err := c.ToInstant("America/New_York", Date{2024, time.July, 16}, 9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 16, 13, 0, 0, 0, time.UTC), summer.UTC())
}

func TestToInstantSpringForwardGap(t *testing.T) {
	c := NewClock()
	day := Date{2024, time.March, 10}

	_, err := c.ToInstant("America/New_York", day, 2, 30)
	assert.ErrorIs(t, err, ErrInvalidLocalTime)

	before, err := c.ToInstant("America/New_York", day, 1, 30)
	require.NoError(t, err)
	after, err := c.ToInstant("America/New_York", day, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, after.Sub(before))
}

func TestToInstantErrors(t *testing.T) {
	c := NewClock()
	day := Date{2024, time.May, 1}

	_, err := c.ToInstant("Mars/Olympus_Mons", day, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidZone)

	_, err = c.ToInstant("", day, 9, 0)
	assert.ErrorIs(t, err, ErrInvalidZone)

	for _, hm := range [][2]int{{-1, 0}, {25, 0}, {9, 60}, {24, 30}} {
		_, err = c.ToInstant("UTC", day, hm[0], hm[1])
		assert.ErrorIs(t, err, ErrInvalidLocalTime, hm)
	}
}

func TestToInstantEndOfDay(t *testing.T) {
	c := NewClock()
	got, err := c.ToInstant("Europe/Berlin", Date{2024, time.December, 31}, 24, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 31, 23, 0, 0, 0, time.UTC), got.UTC())
}

func TestDayBoundsAcrossFallBack(t *testing.T) {
	c := NewClock()
	start, end, err := c.DayBounds("America/New_York", Date{2024, time.November, 3})
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour, end.Sub(start))
}

func TestLocalDate(t *testing.T) {
	c := NewClock()
	instant := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	d, err := c.LocalDate("America/Los_Angeles", instant)
	require.NoError(t, err)
	assert.Equal(t, Date{2024, time.April, 30}, d)
}

func TestDate(t *testing.T) {
	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-28", d.String())
	assert.Equal(t, Date{2024, time.March, 1}, d.AddDays(2))
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.False(t, d.IsZero())

	_, err = ParseDate("2024-13-01")
	assert.Error(t, err)
	_, err = ParseDate("tomorrow")
	assert.Error(t, err)
}
