package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	// Register should be safe to call multiple times
	Register()
	Register()

	assert.NotPanics(t, func() {
		ObserveHTTP("/healthz", "GET", 200, time.Millisecond)
		AddBookingsCreated(3)
		IncMutation("update", "ok")
		IncSlotQuery("ok")
		ObserveCriticalSection("memory", time.Millisecond)
		IncNotification("sent")
		IncRateLimited("public")
	})
}

func TestReservationCounter(t *testing.T) {
	Register()
	assert.NotPanics(t, func() {
		for _, result := range []string{"created", "conflict", "invalid", "error"} {
			IncReservation(result)
		}
	})
}
