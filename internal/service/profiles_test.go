package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSeedOwnersDerivesSlugs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.profiles.SeedOwners(ctx, []models.Owner{
		{ID: "Dr_Meyer", FullName: "Anna Meyer", Email: "anna@example.com"},
		{ID: "api", FullName: "Reserved"},
		{ID: "bob", FullName: "Bob", ProfileSlug: "Dr-Bob", TimeZone: "Europe/Berlin"},
		{ID: "dr-meyer", FullName: "Other Meyer"},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	meyer, err := f.profiles.GetProfile(ctx, "Dr_Meyer")
	require.NoError(t, err)
	assert.Equal(t, "dr-meyer", meyer.ProfileSlug)

	other, err := f.profiles.GetProfile(ctx, "dr-meyer")
	require.NoError(t, err)
	assert.Equal(t, "dr-meyer-2", other.ProfileSlug)

	reserved, err := f.profiles.GetProfile(ctx, "api")
	require.NoError(t, err)
	assert.Equal(t, "pro-api", reserved.ProfileSlug)

	bob, err := f.profiles.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "dr-bob", bob.ProfileSlug)
	assert.Equal(t, "Europe/Berlin", bob.TimeZone)

	// A second run keeps edits and only refreshes the email.
	_, err = f.profiles.UpdateProfile(ctx, "bob", ProfileChanges{FullName: strPtr("Robert")})
	require.NoError(t, err)
	n, err = f.profiles.SeedOwners(ctx, []models.Owner{{ID: "bob", FullName: "Bob", Email: "bob@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	bob, err = f.profiles.GetProfile(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Robert", bob.FullName)
	assert.Equal(t, "bob@example.com", bob.Email)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	same, err := f.profiles.UpdateProfile(ctx, ownerID, ProfileChanges{})
	require.NoError(t, err)
	assert.Equal(t, "owner-1", same.ProfileSlug)

	long := strings.Repeat("é", 300)
	updated, err := f.profiles.UpdateProfile(ctx, ownerID, ProfileChanges{
		FullName:    &long,
		ProfileSlug: strPtr("  Dr-Who "),
		TimeZone:    strPtr("America/New_York"),
	})
	require.NoError(t, err)
	assert.Equal(t, "dr-who", updated.ProfileSlug)
	assert.Equal(t, "America/New_York", updated.TimeZone)
	assert.Len(t, []rune(updated.FullName), 255)

	res, err := f.profiles.ResolveSlug(ctx, "OWNER-1")
	require.NoError(t, err)
	assert.Equal(t, "/dr-who", res.RedirectTo)

	res, err = f.profiles.ResolveSlug(ctx, "dr-who")
	require.NoError(t, err)
	assert.Equal(t, "dr-who", res.ProfileSlug)
	assert.Empty(t, res.RedirectTo)

	// Owners read by the reservation flow see the new profile.
	o, err := f.profiles.GetOwner(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "dr-who", o.ProfileSlug)
}

func TestUpdateProfileRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.profiles.SeedOwners(ctx, []models.Owner{{ID: "other", ProfileSlug: "taken"}})
	require.NoError(t, err)

	cases := []struct {
		name    string
		changes ProfileChanges
		reason  domain.ValidationReason
	}{
		{"empty slug", ProfileChanges{ProfileSlug: strPtr("  ")}, domain.ReasonMissingField},
		{"bad slug", ProfileChanges{ProfileSlug: strPtr("dr who")}, domain.ReasonInvalidSlug},
		{"reserved slug", ProfileChanges{ProfileSlug: strPtr("Sign-In")}, domain.ReasonReservedSlug},
		{"zone", ProfileChanges{TimeZone: strPtr("Mars/Olympus")}, domain.ReasonInvalidZone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.profiles.UpdateProfile(ctx, ownerID, tc.changes)
			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.reason, ve.Reason)
		})
	}

	_, err = f.profiles.UpdateProfile(ctx, ownerID, ProfileChanges{ProfileSlug: strPtr("taken")})
	assert.ErrorIs(t, err, domain.ErrSlugTaken)

	_, err = f.profiles.UpdateProfile(ctx, "ghost", ProfileChanges{FullName: strPtr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stored, err := f.profiles.GetProfile(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", stored.ProfileSlug)
}

func TestResolveSlugNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, slug := range []string{"", "  ", "book", "API", "nobody"} {
		_, err := f.profiles.ResolveSlug(ctx, slug)
		assert.ErrorIs(t, err, domain.ErrNotFound, "slug %q", slug)
	}
}

func TestReservedSlugsSorted(t *testing.T) {
	f := newFixture(t)
	slugs := f.profiles.ReservedSlugs()
	assert.Len(t, slugs, len(models.ReservedSlugs))
	assert.IsIncreasing(t, slugs)
	assert.Contains(t, slugs, "sign-up")
}
