package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/timezone"

	"github.com/rs/zerolog"
)

const maxFullNameRunes = 255

var slugUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

// ProfileChanges is a partial update of the caller's profile; nil fields are kept.
type ProfileChanges struct {
	FullName    *string
	ProfileSlug *string
	TimeZone    *string
}

// SlugResolution answers a public slug lookup. Exactly one field is set.
type SlugResolution struct {
	ProfileSlug string `json:"profileSlug,omitempty"`
	RedirectTo  string `json:"redirectTo,omitempty"`
}

// ProfileService owns the professional profiles. It is also the owner
// directory the reservation coordinator reads for notifications.
type ProfileService struct {
	repo   domain.ProfileRepository
	clock  *timezone.Clock
	logger *zerolog.Logger
}

func NewProfileService(repo domain.ProfileRepository, clock *timezone.Clock, logger *zerolog.Logger) *ProfileService {
	l := logger.With().Str("component", "profiles").Logger()
	return &ProfileService{repo: repo, clock: clock, logger: &l}
}

func (s *ProfileService) GetOwner(ctx context.Context, ownerID string) (*models.Owner, error) {
	return s.repo.GetProfile(ctx, ownerID)
}

func (s *ProfileService) GetProfile(ctx context.Context, ownerID string) (*models.Owner, error) {
	return s.repo.GetProfile(ctx, ownerID)
}

// UpdateProfile applies changes to the owner's profile. A slug change
// leaves the old slug behind as a redirect.
func (s *ProfileService) UpdateProfile(ctx context.Context, ownerID string, changes ProfileChanges) (*models.Owner, error) {
	current, err := s.repo.GetProfile(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if changes.FullName == nil && changes.ProfileSlug == nil && changes.TimeZone == nil {
		return current, nil
	}

	next := current.Clone()
	if changes.FullName != nil {
		next.FullName = truncateRunes(strings.TrimSpace(*changes.FullName), maxFullNameRunes)
	}
	if changes.ProfileSlug != nil {
		slug := strings.ToLower(strings.TrimSpace(*changes.ProfileSlug))
		if err := validateProfileSlug(slug); err != nil {
			return nil, err
		}
		next.ProfileSlug = slug
	}
	if changes.TimeZone != nil {
		tz := strings.TrimSpace(*changes.TimeZone)
		if tz != "" {
			if _, err := s.clock.Location(tz); err != nil {
				return nil, domain.NewValidationError(domain.ReasonInvalidZone, "timeZone", err.Error())
			}
		}
		next.TimeZone = tz
	}

	if err := s.repo.SaveProfile(ctx, next); err != nil {
		return nil, err
	}
	ev := s.logger.Info().Str("owner_id", ownerID)
	if next.ProfileSlug != current.ProfileSlug {
		ev = ev.Str("old_slug", current.ProfileSlug).Str("profile_slug", next.ProfileSlug)
	}
	ev.Msg("Profile updated")
	return next, nil
}

// ResolveSlug maps a public path segment to a live profile slug, or to the
// current slug of the owner who retired it.
func (s *ProfileService) ResolveSlug(ctx context.Context, slug string) (*SlugResolution, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" || models.IsReservedSlug(slug) {
		return nil, fmt.Errorf("profile %q: %w", slug, domain.ErrNotFound)
	}

	ownerID, err := s.repo.RedirectOwner(ctx, slug)
	switch {
	case err == nil:
		target, err := s.repo.GetProfile(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		return &SlugResolution{RedirectTo: "/" + target.ProfileSlug}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	pro, err := s.repo.GetProfileBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	return &SlugResolution{ProfileSlug: pro.ProfileSlug}, nil
}

// ReservedSlugs lists the path segments no profile or event type may use.
func (s *ProfileService) ReservedSlugs() []string {
	out := make([]string, 0, len(models.ReservedSlugs))
	for slug := range models.ReservedSlugs {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}

// SeedOwners creates a profile for every owner that has none. Existing
// profiles only pick up the configured email, which identifies the owner.
func (s *ProfileService) SeedOwners(ctx context.Context, owners []models.Owner) (int, error) {
	created := 0
	for i := range owners {
		o := owners[i]
		existing, err := s.repo.GetProfile(ctx, o.ID)
		switch {
		case err == nil:
			if o.Email != "" && existing.Email != o.Email {
				existing.Email = o.Email
				if err := s.repo.SaveProfile(ctx, existing); err != nil {
					return created, fmt.Errorf("seed profile %q: %w", o.ID, err)
				}
			}
			continue
		case !errors.Is(err, domain.ErrNotFound):
			return created, fmt.Errorf("seed profile %q: %w", o.ID, err)
		}

		if err := s.createProfile(ctx, &o); err != nil {
			return created, fmt.Errorf("seed profile %q: %w", o.ID, err)
		}
		created++
		s.logger.Info().Str("owner_id", o.ID).Str("profile_slug", o.ProfileSlug).Msg("Profile seeded")
	}
	return created, nil
}

func (s *ProfileService) createProfile(ctx context.Context, o *models.Owner) error {
	base := strings.ToLower(strings.TrimSpace(o.ProfileSlug))
	if validateProfileSlug(base) != nil {
		base = defaultProfileSlug(o.ID)
	}
	if o.TimeZone != "" {
		if _, err := s.clock.Location(o.TimeZone); err != nil {
			return domain.NewValidationError(domain.ReasonInvalidZone, "timeZone", err.Error())
		}
	}
	o.FullName = truncateRunes(strings.TrimSpace(o.FullName), maxFullNameRunes)

	for n := 1; ; n++ {
		o.ProfileSlug = base
		if n > 1 {
			o.ProfileSlug = fmt.Sprintf("%s-%d", base, n)
		}
		err := s.repo.SaveProfile(ctx, o)
		if !errors.Is(err, domain.ErrSlugTaken) || n >= 100 {
			return err
		}
	}
}

func validateProfileSlug(slug string) error {
	if slug == "" {
		return domain.NewValidationError(domain.ReasonMissingField, "profileSlug", "profileSlug must not be empty")
	}
	if !slugPattern.MatchString(slug) {
		return domain.NewValidationError(domain.ReasonInvalidSlug, "profileSlug", "profileSlug may contain only lowercase letters, digits and dashes")
	}
	if models.IsReservedSlug(slug) {
		return domain.NewValidationError(domain.ReasonReservedSlug, "profileSlug", fmt.Sprintf("profileSlug %q is reserved", slug))
	}
	return nil
}

// defaultProfileSlug derives a usable slug from an owner id.
func defaultProfileSlug(ownerID string) string {
	slug := strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(ownerID), "-"), "-")
	if slug == "" || models.IsReservedSlug(slug) {
		slug = "pro-" + slug
		slug = strings.TrimSuffix(slug, "-")
	}
	return slug
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
