package repository

import (
	"context"
	"testing"
	"time"

	"slotkeeper/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr(), PoolSize: 2})
	defer client.Close()

	repo := NewRedisRateLimiter(client)
	ctx := context.Background()

	t.Run("RateLimit", func(t *testing.T) {
		limit := 2
		window := time.Second

		// First request
		allowed, err := repo.CheckRateLimit(ctx, "10.0.0.1", limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Second request
		allowed, err = repo.CheckRateLimit(ctx, "10.0.0.1", limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)

		// Third request (exceeds limit)
		allowed, err = repo.CheckRateLimit(ctx, "10.0.0.1", limit, window)
		require.NoError(t, err)
		assert.False(t, allowed)

		assert.True(t, s.Exists("rate_limit:10.0.0.1"))
		assert.Equal(t, window, s.TTL("rate_limit:10.0.0.1"))

		// Wait for window to expire
		s.FastForward(window + time.Millisecond)

		// Should be allowed again
		allowed, err = repo.CheckRateLimit(ctx, "10.0.0.1", limit, window)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("NilClient", func(t *testing.T) {
		repo := NewRedisRateLimiter(nil)
		_, err := repo.CheckRateLimit(ctx, "x", 1, time.Second)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "redis client is nil")
	})

	t.Run("ServerDown", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
		defer down.Close()
		_, err := NewRedisRateLimiter(down).CheckRateLimit(ctx, "x", 1, time.Second)
		assert.Error(t, err)
	})

	t.Run("Ping", func(t *testing.T) {
		err := Ping(ctx, client)
		assert.NoError(t, err)
	})

	t.Run("Close", func(t *testing.T) {
		err := Close(client)
		assert.NoError(t, err)
		assert.NoError(t, Close(nil))
	})
}
