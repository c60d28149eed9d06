package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	start := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)

	conflict := fmt.Errorf("reserve: %w", &ConflictError{ConflictingStart: start, BookingID: 7})
	assert.True(t, IsConflict(conflict))
	assert.False(t, IsValidation(conflict))
	assert.Contains(t, conflict.Error(), "2030-01-01T09:00:00Z")

	invalid := fmt.Errorf("reserve: %w", NewValidationError(ReasonMissingField, "email", "email is required"))
	assert.True(t, IsValidation(invalid))
	assert.False(t, IsConflict(invalid))
	assert.Contains(t, invalid.Error(), "missing_field")

	assert.ErrorIs(t, fmt.Errorf("get: %w", ErrNotFound), ErrNotFound)
}
