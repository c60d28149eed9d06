package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

const eventTypeColumns = `id, owner_id, slug, name, description, location, duration_minutes,
        time_zone, availability, allow_recurring, recurring_count, created_at, updated_at`

func (db *DB) CreateEventType(ctx context.Context, et *models.EventType) error {
	windows, err := json.Marshal(availabilityOrEmpty(et.Availability))
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	slug := normalizeSlug(et.Slug)
	result, err := db.db.ExecContext(ctx, `INSERT INTO event_types (
            owner_id, slug, name, description, location, duration_minutes,
            time_zone, availability, allow_recurring, recurring_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		et.OwnerID, slug, et.Name, et.Description, et.Location, et.DurationMinutes,
		et.TimeZone, string(windows), et.AllowRecurring, et.RecurringCount, now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
		}
		return fmt.Errorf("failed to insert event type: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event type id: %w", err)
	}
	et.ID = id
	et.Slug = slug
	et.CreatedAt = now
	et.UpdatedAt = now
	return nil
}

func (db *DB) UpdateEventType(ctx context.Context, et *models.EventType) error {
	windows, err := json.Marshal(availabilityOrEmpty(et.Availability))
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	slug := normalizeSlug(et.Slug)
	result, err := db.db.ExecContext(ctx, `UPDATE event_types SET
            slug = ?, name = ?, description = ?, location = ?, duration_minutes = ?,
            time_zone = ?, availability = ?, allow_recurring = ?, recurring_count = ?, updated_at = ?
        WHERE id = ?`,
		slug, et.Name, et.Description, et.Location, et.DurationMinutes,
		et.TimeZone, string(windows), et.AllowRecurring, et.RecurringCount, now.Unix(), et.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
		}
		return fmt.Errorf("failed to update event type: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event type %d: %w", et.ID, domain.ErrNotFound)
	}
	et.Slug = slug
	et.UpdatedAt = now
	return nil
}

func (db *DB) GetEventType(ctx context.Context, id int64) (*models.EventType, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE id = ?`, id)
	et, err := scanEventType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event type %d: %w", id, domain.ErrNotFound)
	}
	return et, err
}

func (db *DB) GetEventTypeBySlug(ctx context.Context, slug string) (*models.EventType, error) {
	slug = normalizeSlug(slug)
	row := db.db.QueryRowContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE slug = ?`, slug)
	et, err := scanEventType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event type %q: %w", slug, domain.ErrNotFound)
	}
	return et, err
}

func (db *DB) ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE owner_id = ? ORDER BY id`, ownerID)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventType(row rowScanner) (*models.EventType, error) {
	var (
		et             models.EventType
		windows        string
		created, updtd int64
	)
	err := row.Scan(&et.ID, &et.OwnerID, &et.Slug, &et.Name, &et.Description, &et.Location,
		&et.DurationMinutes, &et.TimeZone, &windows, &et.AllowRecurring, &et.RecurringCount, &created, &updtd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event type: %w", err)
	}
	if err := json.Unmarshal([]byte(windows), &et.Availability); err != nil {
		return nil, fmt.Errorf("failed to decode availability of event type %d: %w", et.ID, err)
	}
	et.CreatedAt = time.Unix(created, 0).UTC()
	et.UpdatedAt = time.Unix(updtd, 0).UTC()
	return &et, nil
}

func availabilityOrEmpty(ws []models.AvailabilityWindow) []models.AvailabilityWindow {
	if ws == nil {
		return []models.AvailabilityWindow{}
	}
	return ws
}
