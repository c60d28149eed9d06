package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/lock"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"
)

const bookingColumns = `id, event_type_id, owner_id, start_unix, end_unix, duration_minutes,
        first_name, last_name, email, phone, recurring_group_id, notes, created_at, updated_at`

func (db *DB) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	return findOverlapping(ctx, db.db, ownerID, start, end, excludeID)
}

func (db *DB) BookingsIntersecting(ctx context.Context, ownerID string, rangeStart, rangeEnd time.Time) ([]*models.Booking, error) {
	return queryBookings(ctx, db.db, `SELECT `+bookingColumns+` FROM bookings
        WHERE owner_id = ? AND start_unix < ? AND end_unix > ?
        ORDER BY start_unix, id`, ownerID, rangeEnd.Unix(), rangeStart.Unix())
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db.db, id)
}

func (db *DB) ListBookings(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	return queryBookings(ctx, db.db, `SELECT `+bookingColumns+` FROM bookings
        WHERE owner_id = ? ORDER BY start_unix, id`, ownerID)
}

func (db *DB) ListRecurringGroup(ctx context.Context, groupID string) ([]*models.Booking, error) {
	if groupID == "" {
		return []*models.Booking{}, nil
	}
	return queryBookings(ctx, db.db, `SELECT `+bookingColumns+` FROM bookings
        WHERE recurring_group_id = ? ORDER BY start_unix, id`, groupID)
}

func (db *DB) DeleteBooking(ctx context.Context, id int64) error {
	result, err := db.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete booking: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// WithOwnerLock runs fn inside one transaction. The deferred rollback
// covers errors and panics alike; it is a no-op after a commit.
func (db *DB) WithOwnerLock(ctx context.Context, ownerID string, fn func(tx domain.LedgerTx) error) error {
	waitStart := time.Now()
	unlock, err := db.locks.Lock(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("acquire owner lock: %w", err)
	}
	defer unlock()
	if wait := time.Since(waitStart); wait > lock.SlowWait {
		db.logger.Warn().Str("owner_id", ownerID).Dur("wait", wait).Msg("Slow owner lock acquisition")
	}

	started := time.Now()
	defer func() { metrics.ObserveCriticalSection("sqlite", time.Since(started)) }()

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&ledgerTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	return findOverlapping(ctx, t.tx, ownerID, start, end, excludeID)
}

func (t *ledgerTx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, t.tx, id)
}

func (t *ledgerTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now().UTC().Truncate(time.Second)
	result, err := t.tx.ExecContext(ctx, `INSERT INTO bookings (
            event_type_id, owner_id, start_unix, end_unix, duration_minutes,
            first_name, last_name, email, phone, recurring_group_id, notes, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.EventTypeID, b.OwnerID, b.StartAt.Unix(), b.EndAt.Unix(), b.DurationMinutes,
		b.FirstName, b.LastName, b.Email, b.Phone, b.RecurringGroupID, b.Notes, now.Unix(), now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read booking id: %w", err)
	}
	b.ID = id
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	return nil
}

func (t *ledgerTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	now := time.Now().UTC().Truncate(time.Second)
	result, err := t.tx.ExecContext(ctx, `UPDATE bookings SET
            start_unix = ?, end_unix = ?, duration_minutes = ?,
            first_name = ?, last_name = ?, email = ?, phone = ?, notes = ?, updated_at = ?
        WHERE id = ?`,
		b.StartAt.Unix(), b.EndAt.Unix(), b.DurationMinutes,
		b.FirstName, b.LastName, b.Email, b.Phone, b.Notes, now.Unix(), b.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking in tx: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("booking %d: %w", b.ID, domain.ErrNotFound)
	}
	b.UpdatedAt = now
	return nil
}

func findOverlapping(ctx context.Context, q querier, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings
        WHERE owner_id = ? AND start_unix < ? AND end_unix > ? AND id != ?
        ORDER BY start_unix LIMIT 1`, ownerID, end.Unix(), start.Unix(), excludeID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func getBooking(ctx context.Context, q querier, id int64) (*models.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return b, err
}

func queryBookings(ctx context.Context, q querier, query string, args ...any) ([]*models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
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

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b                          models.Booking
		start, end, created, updtd int64
	)
	err := row.Scan(&b.ID, &b.EventTypeID, &b.OwnerID, &start, &end, &b.DurationMinutes,
		&b.FirstName, &b.LastName, &b.Email, &b.Phone, &b.RecurringGroupID, &b.Notes, &created, &updtd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan booking: %w", err)
	}
	b.StartAt = time.Unix(start, 0).UTC()
	b.EndAt = time.Unix(end, 0).UTC()
	b.CreatedAt = time.Unix(created, 0).UTC()
	b.UpdatedAt = time.Unix(updtd, 0).UTC()
	return &b, nil
}
