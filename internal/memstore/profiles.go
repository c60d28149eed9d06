package memstore

import (
	"context"
	"fmt"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
)

func (s *Store) GetProfile(ctx context.Context, ownerID string) (*models.Owner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.state.Profiles[ownerID]
	if !ok {
		return nil, fmt.Errorf("profile %q: %w", ownerID, domain.ErrNotFound)
	}
	return o.Clone(), nil
}

func (s *Store) GetProfileBySlug(ctx context.Context, slug string) (*models.Owner, error) {
	slug = normalizeSlug(slug)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.state.Profiles {
		if o.ProfileSlug == slug {
			return o.Clone(), nil
		}
	}
	return nil, fmt.Errorf("profile %q: %w", slug, domain.ErrNotFound)
}

func (s *Store) SaveProfile(ctx context.Context, o *models.Owner) error {
	return s.mutate(func(st *state) error {
		slug := normalizeSlug(o.ProfileSlug)
		for id, existing := range st.Profiles {
			if id != o.ID && existing.ProfileSlug == slug {
				return fmt.Errorf("profile %q: %w", slug, domain.ErrSlugTaken)
			}
		}
		if owner, ok := st.Redirects[slug]; ok && owner != o.ID {
			return fmt.Errorf("profile %q redirects elsewhere: %w", slug, domain.ErrSlugTaken)
		}

		now := s.now().UTC()
		c := o.Clone()
		c.ProfileSlug = slug
		c.CreatedAt = now
		if prev, ok := st.Profiles[o.ID]; ok {
			c.CreatedAt = prev.CreatedAt
			if prev.ProfileSlug != "" && prev.ProfileSlug != slug {
				if owner, taken := st.Redirects[prev.ProfileSlug]; taken && owner != o.ID {
					return fmt.Errorf("old slug %q: %w", prev.ProfileSlug, domain.ErrSlugTaken)
				}
				st.Redirects[prev.ProfileSlug] = o.ID
			}
		}
		delete(st.Redirects, slug)
		c.UpdatedAt = now
		st.Profiles[c.ID] = c

		o.ProfileSlug, o.CreatedAt, o.UpdatedAt = c.ProfileSlug, c.CreatedAt, c.UpdatedAt
		return nil
	})
}

func (s *Store) RedirectOwner(ctx context.Context, slug string) (string, error) {
	slug = normalizeSlug(slug)
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.state.Redirects[slug]
	if !ok {
		return "", fmt.Errorf("redirect %q: %w", slug, domain.ErrNotFound)
	}
	return owner, nil
}
