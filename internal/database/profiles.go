package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

const profileColumns = `owner_id, full_name, email, profile_slug, time_zone, created_at, updated_at`

func (db *DB) GetProfile(ctx context.Context, ownerID string) (*models.Owner, error) {
	o, err := getProfile(ctx, db.db, `WHERE owner_id = ?`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", ownerID, domain.ErrNotFound)
	}
	return o, err
}

func (db *DB) GetProfileBySlug(ctx context.Context, slug string) (*models.Owner, error) {
	slug = normalizeSlug(slug)
	o, err := getProfile(ctx, db.db, `WHERE profile_slug = ?`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", slug, domain.ErrNotFound)
	}
	return o, err
}

// SaveProfile runs in one immediate transaction so the slug checks, the
// redirect and the profile row commit together.
func (db *DB) SaveProfile(ctx context.Context, o *models.Owner) error {
	slug := normalizeSlug(o.ProfileSlug)
	now := time.Now().UTC().Truncate(time.Second)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var redirectOwner string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM slug_redirects WHERE slug = ?`, slug).Scan(&redirectOwner)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read slug redirect: %w", err)
	case redirectOwner != o.ID:
		return fmt.Errorf("profile %q redirects elsewhere: %w", slug, domain.ErrSlugTaken)
	}

	prev, err := getProfile(ctx, tx, `WHERE owner_id = ?`, o.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	created := now
	if prev != nil {
		created = prev.CreatedAt
		if prev.ProfileSlug != "" && prev.ProfileSlug != slug {
			_, err := tx.ExecContext(ctx, `INSERT INTO slug_redirects (slug, owner_id, created_at) VALUES (?, ?, ?)`,
				prev.ProfileSlug, o.ID, now.Unix())
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("old slug %q: %w", prev.ProfileSlug, domain.ErrSlugTaken)
				}
				return fmt.Errorf("failed to insert slug redirect: %w", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM slug_redirects WHERE slug = ?`, slug); err != nil {
		return fmt.Errorf("failed to drop slug redirect: %w", err)
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO profiles (`+profileColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(owner_id) DO UPDATE SET
            full_name = excluded.full_name, email = excluded.email, profile_slug = excluded.profile_slug,
            time_zone = excluded.time_zone, updated_at = excluded.updated_at`,
		o.ID, o.FullName, o.Email, slug, o.TimeZone, created.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile %q: %w", slug, domain.ErrSlugTaken)
		}
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	o.ProfileSlug = slug
	o.CreatedAt, o.UpdatedAt = created, now
	return nil
}

func (db *DB) RedirectOwner(ctx context.Context, slug string) (string, error) {
	slug = normalizeSlug(slug)
	var owner string
	err := db.db.QueryRowContext(ctx, `SELECT owner_id FROM slug_redirects WHERE slug = ?`, slug).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("redirect %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read slug redirect: %w", err)
	}
	return owner, nil
}

func getProfile(ctx context.Context, q querier, where string, arg any) (*models.Owner, error) {
	var (
		o              models.Owner
		created, updtd int64
	)
	err := q.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles `+where, arg).
		Scan(&o.ID, &o.FullName, &o.Email, &o.ProfileSlug, &o.TimeZone, &created, &updtd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	o.CreatedAt = time.Unix(created, 0).UTC()
	o.UpdatedAt = time.Unix(updtd, 0).UTC()
	return &o, nil
}
