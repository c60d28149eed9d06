package postgres

import (
	"context"
	"errors"
	"fmt"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/jackc/pgx/v5"
)

const profileColumns = `owner_id, full_name, email, profile_slug, time_zone, created_at, updated_at`

func (s *Store) GetProfile(ctx context.Context, ownerID string) (*models.Owner, error) {
	o, err := getProfile(ctx, s.pool, `WHERE owner_id = $1`, ownerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", ownerID, domain.ErrNotFound)
	}
	return o, err
}

func (s *Store) GetProfileBySlug(ctx context.Context, slug string) (*models.Owner, error) {
	slug = normalizeSlug(slug)
	o, err := getProfile(ctx, s.pool, `WHERE profile_slug = $1`, slug)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %q: %w", slug, domain.ErrNotFound)
	}
	return o, err
}

// SaveProfile serializes every profile write on one advisory key, since
// the redirect check spans rows of other owners.
func (s *Store) SaveProfile(ctx context.Context, o *models.Owner) error {
	slug := normalizeSlug(o.ProfileSlug)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('slotkeeper:profiles'))`); err != nil {
		return fmt.Errorf("acquire profile lock: %w", err)
	}

	var redirectOwner string
	err = tx.QueryRow(ctx, `SELECT owner_id FROM slug_redirects WHERE slug = $1`, slug).Scan(&redirectOwner)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read slug redirect: %w", err)
	case redirectOwner != o.ID:
		return fmt.Errorf("profile %q redirects elsewhere: %w", slug, domain.ErrSlugTaken)
	}

	prev, err := getProfile(ctx, tx, `WHERE owner_id = $1`, o.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if prev != nil && prev.ProfileSlug != "" && prev.ProfileSlug != slug {
		_, err := tx.Exec(ctx, `INSERT INTO slug_redirects (slug, owner_id) VALUES ($1, $2)`, prev.ProfileSlug, o.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("old slug %q: %w", prev.ProfileSlug, domain.ErrSlugTaken)
			}
			return fmt.Errorf("failed to insert slug redirect: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM slug_redirects WHERE slug = $1`, slug); err != nil {
		return fmt.Errorf("failed to drop slug redirect: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO profiles (owner_id, full_name, email, profile_slug, time_zone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (owner_id) DO UPDATE SET
			full_name = EXCLUDED.full_name, email = EXCLUDED.email, profile_slug = EXCLUDED.profile_slug,
			time_zone = EXCLUDED.time_zone, updated_at = now()
		RETURNING created_at, updated_at
	`, o.ID, o.FullName, o.Email, slug, o.TimeZone).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("profile %q: %w", slug, domain.ErrSlugTaken)
		}
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	o.ProfileSlug = slug
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return nil
}

func (s *Store) RedirectOwner(ctx context.Context, slug string) (string, error) {
	slug = normalizeSlug(slug)
	var owner string
	err := s.pool.QueryRow(ctx, `SELECT owner_id FROM slug_redirects WHERE slug = $1`, slug).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("redirect %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read slug redirect: %w", err)
	}
	return owner, nil
}

func getProfile(ctx context.Context, q querier, where string, arg any) (*models.Owner, error) {
	var o models.Owner
	err := q.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles `+where, arg).
		Scan(&o.ID, &o.FullName, &o.Email, &o.ProfileSlug, &o.TimeZone, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return &o, nil
}
