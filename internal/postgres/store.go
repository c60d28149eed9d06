package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Store is the Postgres ledger. Each owner write section is one transaction
// holding pg_advisory_xact_lock on the owner id, so every process sharing
// the database serializes on the same key. The lock ends with the transaction.
type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func Open(ctx context.Context, databaseURL string, logger *zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	l := logger.With().Str("component", "postgres").Logger()
	l.Info().Msg("Postgres store initialized")
	return &Store{pool: pool, logger: &l}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS event_types (
			id BIGSERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL,
			slug TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL,
			time_zone TEXT NOT NULL,
			availability JSONB NOT NULL DEFAULT '[]',
			allow_recurring BOOLEAN NOT NULL DEFAULT FALSE,
			recurring_count INTEGER NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id BIGSERIAL PRIMARY KEY,
			event_type_id BIGINT NOT NULL REFERENCES event_types(id),
			owner_id TEXT NOT NULL,
			start_at TIMESTAMPTZ NOT NULL,
			end_at TIMESTAMPTZ NOT NULL,
			duration_minutes INTEGER NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			recurring_group_id TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (start_at < end_at)
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			owner_id TEXT PRIMARY KEY,
			full_name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			profile_slug TEXT NOT NULL UNIQUE,
			time_zone TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS slug_redirects (
			slug TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_types_owner ON event_types(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner_start ON bookings(owner_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_group ON bookings(recurring_group_id)`,
	}
	for _, q := range queries {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate postgres schema: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

const eventTypeColumns = `id, owner_id, slug, name, description, location, duration_minutes,
	time_zone, availability, allow_recurring, recurring_count, created_at, updated_at`

func (s *Store) CreateEventType(ctx context.Context, et *models.EventType) error {
	windows, err := encodeWindows(et.Availability)
	if err != nil {
		return err
	}
	slug := normalizeSlug(et.Slug)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO event_types
			(owner_id, slug, name, description, location, duration_minutes, time_zone, availability, allow_recurring, recurring_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, et.OwnerID, slug, et.Name, et.Description, et.Location, et.DurationMinutes,
		et.TimeZone, windows, et.AllowRecurring, et.RecurringCount,
	).Scan(&et.ID, &et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
		}
		return fmt.Errorf("failed to insert event type: %w", err)
	}
	et.Slug = slug
	et.CreatedAt, et.UpdatedAt = et.CreatedAt.UTC(), et.UpdatedAt.UTC()
	return nil
}

func (s *Store) UpdateEventType(ctx context.Context, et *models.EventType) error {
	windows, err := encodeWindows(et.Availability)
	if err != nil {
		return err
	}
	slug := normalizeSlug(et.Slug)
	err = s.pool.QueryRow(ctx, `
		UPDATE event_types SET
			slug = $2, name = $3, description = $4, location = $5, duration_minutes = $6,
			time_zone = $7, availability = $8, allow_recurring = $9, recurring_count = $10, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, et.ID, slug, et.Name, et.Description, et.Location, et.DurationMinutes,
		et.TimeZone, windows, et.AllowRecurring, et.RecurringCount,
	).Scan(&et.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("event type %d: %w", et.ID, domain.ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
	case err != nil:
		return fmt.Errorf("failed to update event type: %w", err)
	}
	et.Slug = slug
	et.UpdatedAt = et.UpdatedAt.UTC()
	return nil
}

func (s *Store) GetEventType(ctx context.Context, id int64) (*models.EventType, error) {
	et, err := scanEventType(s.pool.QueryRow(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event type %d: %w", id, domain.ErrNotFound)
	}
	return et, err
}

func (s *Store) GetEventTypeBySlug(ctx context.Context, slug string) (*models.EventType, error) {
	slug = normalizeSlug(slug)
	et, err := scanEventType(s.pool.QueryRow(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("event type %q: %w", slug, domain.ErrNotFound)
	}
	return et, err
}

func (s *Store) ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event types: %w", err)
	}
	defer rows.Close()

	out := make([]*models.EventType, 0)
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func encodeWindows(ws []models.AvailabilityWindow) (string, error) {
	if ws == nil {
		ws = []models.AvailabilityWindow{}
	}
	data, err := json.Marshal(ws)
	if err != nil {
		return "", fmt.Errorf("failed to encode availability: %w", err)
	}
	return string(data), nil
}

func scanEventType(row pgx.Row) (*models.EventType, error) {
	var (
		et      models.EventType
		windows []byte
	)
	err := row.Scan(&et.ID, &et.OwnerID, &et.Slug, &et.Name, &et.Description, &et.Location,
		&et.DurationMinutes, &et.TimeZone, &windows, &et.AllowRecurring, &et.RecurringCount, &et.CreatedAt, &et.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event type: %w", err)
	}
	if err := json.Unmarshal(windows, &et.Availability); err != nil {
		return nil, fmt.Errorf("failed to decode availability of event type %d: %w", et.ID, err)
	}
	et.CreatedAt, et.UpdatedAt = et.CreatedAt.UTC(), et.UpdatedAt.UTC()
	return &et, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
