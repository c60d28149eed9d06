package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter(t *testing.T) {
	repo := NewMemoryRateLimiter()
	now := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("RateLimit", func(t *testing.T) {
		allowed, _ := repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
		assert.True(t, allowed)
		allowed, _ = repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
		assert.False(t, allowed)

		// Other keys have their own window.
		allowed, _ = repo.CheckRateLimit(ctx, "5.6.7.8", 2, time.Second)
		assert.True(t, allowed)

		now = now.Add(time.Second)
		allowed, err := repo.CheckRateLimit(ctx, "1.2.3.4", 2, time.Second)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		allowedCount := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, _ := repo.CheckRateLimit(ctx, "burst", 10, time.Minute)
				if ok {
					mu.Lock()
					allowedCount++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 10, allowedCount)
	})
}
