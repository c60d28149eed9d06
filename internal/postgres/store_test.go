package postgres

import (
	"context"
	"os"
	"testing"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/storetest"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testURLEnv = "SLOTKEEPER_TEST_POSTGRES_URL"

func TestPostgresConformance(t *testing.T) {
	url := os.Getenv(testURLEnv)
	if url == "" {
		t.Skipf("%s not set", testURLEnv)
	}

	logger := zerolog.Nop()
	ctx := context.Background()
	s, err := Open(ctx, url, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	storetest.Run(t, func(t *testing.T) domain.Store {
		_, err := s.pool.Exec(ctx, `TRUNCATE bookings, event_types, profiles, slug_redirects RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return s
	})
}

func TestOpenRejectsBadURL(t *testing.T) {
	logger := zerolog.Nop()
	_, err := Open(context.Background(), "://not a url", &logger)
	require.Error(t, err)
}
