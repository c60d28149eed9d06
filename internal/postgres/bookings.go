package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/lock"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"

	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, event_type_id, owner_id, start_at, end_at, duration_minutes,
	first_name, last_name, email, phone, recurring_group_id, notes, created_at, updated_at`

func (s *Store) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	return findOverlapping(ctx, s.pool, ownerID, start, end, excludeID)
}

func (s *Store) BookingsIntersecting(ctx context.Context, ownerID string, rangeStart, rangeEnd time.Time) ([]*models.Booking, error) {
	return queryBookings(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings
		WHERE owner_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at, id`, ownerID, rangeStart, rangeEnd)
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, s.pool, id)
}

func (s *Store) ListBookings(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	return queryBookings(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings
		WHERE owner_id = $1 ORDER BY start_at, id`, ownerID)
}

func (s *Store) ListRecurringGroup(ctx context.Context, groupID string) ([]*models.Booking, error) {
	if groupID == "" {
		return []*models.Booking{}, nil
	}
	return queryBookings(ctx, s.pool, `SELECT `+bookingColumns+` FROM bookings
		WHERE recurring_group_id = $1 ORDER BY start_at, id`, groupID)
}

func (s *Store) DeleteBooking(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// WithOwnerLock takes the owner's advisory lock as the first statement of the
// transaction. Rollback on error or panic also drops the lock.
func (s *Store) WithOwnerLock(ctx context.Context, ownerID string, fn func(tx domain.LedgerTx) error) error {
	started := time.Now()
	defer func() { metrics.ObserveCriticalSection("postgres", time.Since(started)) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	waitStart := time.Now()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('slotkeeper:owner:' || $1::text))`, ownerID); err != nil {
		return fmt.Errorf("acquire owner lock: %w", err)
	}
	if wait := time.Since(waitStart); wait > lock.SlowWait {
		s.logger.Warn().Str("owner_id", ownerID).Dur("wait", wait).Msg("Slow owner lock acquisition")
	}

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	return findOverlapping(ctx, t.tx, ownerID, start, end, excludeID)
}

func (t *ledgerTx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *ledgerTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bookings
			(event_type_id, owner_id, start_at, end_at, duration_minutes,
			 first_name, last_name, email, phone, recurring_group_id, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, b.EventTypeID, b.OwnerID, b.StartAt, b.EndAt, b.DurationMinutes,
		b.FirstName, b.LastName, b.Email, b.Phone, b.RecurringGroupID, b.Notes,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return nil
}

func (t *ledgerTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE bookings SET
			start_at = $2, end_at = $3, duration_minutes = $4,
			first_name = $5, last_name = $6, email = $7, phone = $8, notes = $9, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, b.ID, b.StartAt, b.EndAt, b.DurationMinutes, b.FirstName, b.LastName, b.Email, b.Phone, b.Notes,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("booking %d: %w", b.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update booking in tx: %w", err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return nil
}

func findOverlapping(ctx context.Context, q querier, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE owner_id = $1 AND start_at < $3 AND end_at > $2 AND id <> $4
		ORDER BY start_at LIMIT 1`, ownerID, start, end, excludeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return b, err
}

func queryBookings(ctx context.Context, q querier, sql string, args ...any) ([]*models.Booking, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return out, nil
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.EventTypeID, &b.OwnerID, &b.StartAt, &b.EndAt, &b.DurationMinutes,
		&b.FirstName, &b.LastName, &b.Email, &b.Phone, &b.RecurringGroupID, &b.Notes, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	b.CreatedAt, b.UpdatedAt = b.CreatedAt.UTC(), b.UpdatedAt.UTC()
	return &b, nil
}
