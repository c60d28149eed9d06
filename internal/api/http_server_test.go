package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"slotkeeper/internal/availability"
	"slotkeeper/internal/config"
	"slotkeeper/internal/memstore"
	"slotkeeper/internal/models"
	"slotkeeper/internal/repository"
	"slotkeeper/internal/service"
	"slotkeeper/internal/timezone"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerKeyA = "key-owner-a"
	ownerKeyB = "key-owner-b"
)

var testNow = time.Date(2029, 12, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	server *httptest.Server
	store  *memstore.Store
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Auth: config.APIAuthConfig{
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: ownerKeyA, OwnerID: "owner-a", Name: "Alice"},
				{Key: ownerKeyB, OwnerID: "owner-b", Name: "Bob"},
			},
		},
		RateLimit:       config.APIRateLimitConfig{RPS: 1000, Burst: 1000},
		PublicRateLimit: config.PublicRateLimitConfig{Limit: 1000, Window: time.Minute},
	}
}

func newTestEnv(t *testing.T, cfg config.APIConfig, pinger Pinger) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	store := memstore.New(&logger)
	clock := timezone.NewClock()
	resolver := availability.NewResolver(clock)
	now := func() time.Time { return testNow }

	profiles := service.NewProfileService(store, clock, &logger)
	_, err := profiles.SeedOwners(context.Background(), []models.Owner{
		{ID: "owner-a", FullName: "Alice", ProfileSlug: "alice"},
		{ID: "owner-b", FullName: "Bob", ProfileSlug: "bob"},
	})
	require.NoError(t, err)

	deps := Deps{
		Slots:         availability.NewSlotService(store, store, resolver, clock, now, &logger),
		Reservations:  service.NewReservationCoordinator(store, resolver, clock, nil, profiles, nil, service.ReservationConfig{Now: now}, &logger),
		Bookings:      service.NewBookingService(store, nil, &logger),
		EventTypes:    service.NewEventTypeService(store, clock, &logger),
		Profiles:      profiles,
		Health:        store,
		PublicLimiter: repository.NewMemoryRateLimiter(),
	}
	if pinger != nil {
		deps.Health = pinger
	}

	srv := NewHTTPServer(cfg, deps, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, apiKey string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func createIntro(t *testing.T, e *testEnv, apiKey string) models.EventType {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/owner/event-types", apiKey, map[string]any{
		"slug":            "intro",
		"name":            "Intro call",
		"durationMinutes": 30,
		"timeZone":        "Europe/Berlin",
		"availability": []map[string]any{
			{"day": 2, "start": "09:00", "end": "10:00"},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var et models.EventType
	require.NoError(t, json.Unmarshal(body, &et))
	return et
}

func reservation(start string) map[string]any {
	return map[string]any{
		"eventTypeSlug": "intro",
		"startTime":     start,
		"firstName":     "Ada",
		"lastName":      "Lovelace",
		"email":         "ada@example.com",
		"phone":         "+441234",
	}
}

func TestHealthAndReadiness(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)

	resp, _ := e.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, _ = e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type downPinger struct{}

func (downPinger) Ping(ctx context.Context) error { return errors.New("db gone") }

func TestReadinessFailsWhenStoreDown(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), downPinger{})
	resp, _ := e.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSlotsAndReservationFlow(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	createIntro(t, e, ownerKeyA)

	resp, body := e.do(t, http.MethodGet, "/api/v1/public/event-types/intro/slots?date=2030-01-01", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var slots []string
	require.NoError(t, json.Unmarshal(body, &slots))
	assert.Equal(t, []string{"2030-01-01T08:00:00Z", "2030-01-01T08:30:00Z"}, slots)

	resp, body = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2030-01-01T09:00:00+01:00"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created reserveResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.True(t, created.Success)
	assert.Equal(t, 1, created.Count)
	assert.False(t, created.NotificationSent)

	resp, body = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2030-01-01T08:00:00Z"))
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
	var conflict errorResponse
	require.NoError(t, json.Unmarshal(body, &conflict))
	assert.Equal(t, "2030-01-01T08:00:00Z", conflict.ConflictingStart)

	resp, body = e.do(t, http.MethodGet, "/api/v1/public/event-types/intro/slots?date=2030-01-01", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &slots))
	assert.Equal(t, []string{"2030-01-01T08:30:00Z"}, slots)
}

func TestReservationValidation(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	createIntro(t, e, ownerKeyA)

	bad := reservation("2030-01-01T08:00:00Z")
	bad["email"] = "not-an-email"
	resp, body := e.do(t, http.MethodPost, "/api/v1/public/bookings", "", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody errorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "email", errBody.Field)

	missing := reservation("2030-01-01T08:00:00Z")
	delete(missing, "phone")
	resp, _ = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", missing)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2030-01-01T08:10:00Z"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "not_an_available_slot", errBody.Reason)

	resp, body = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2029-11-27T08:00:00Z"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "past_time", errBody.Reason)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("tomorrow"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/public/event-types/intro/slots?date=01-01-2030", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/public/event-types/missing/slots?date=2030-01-01", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPublicEventType(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	createIntro(t, e, ownerKeyA)

	resp, body := e.do(t, http.MethodGet, "/api/v1/public/event-types/intro", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var et map[string]any
	require.NoError(t, json.Unmarshal(body, &et))
	assert.Equal(t, "Intro call", et["name"])
	assert.NotContains(t, et, "ownerId")
}

func TestOwnerAuth(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/owner/bookings", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/owner/bookings", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/owner/bookings", ownerKeyA, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOwnerBookingLifecycle(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	createIntro(t, e, ownerKeyA)

	resp, body := e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2030-01-01T08:00:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created reserveResponse
	require.NoError(t, json.Unmarshal(body, &created))
	id := created.Bookings[0].ID
	path := "/api/v1/owner/bookings/" + itoa(id)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/public/bookings", "", reservation("2030-01-01T08:30:00Z"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/v1/owner/bookings", ownerKeyA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var views []models.BookingView
	require.NoError(t, json.Unmarshal(body, &views))
	require.Len(t, views, 2)
	assert.Equal(t, "Intro call", views[0].EventTypeName)
	assert.Equal(t, "Ada Lovelace", views[0].FullName)

	// Foreign owner sees nothing.
	resp, _ = e.do(t, http.MethodGet, path, ownerKeyB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodDelete, path, ownerKeyB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, path, ownerKeyA, map[string]any{"durationMinutes": 45})
	require.Equal(t, http.StatusConflict, resp.StatusCode, string(body))
	var conflict errorResponse
	require.NoError(t, json.Unmarshal(body, &conflict))
	assert.Equal(t, "2030-01-01T08:30:00Z", conflict.ConflictingStart)

	resp, _ = e.do(t, http.MethodPatch, path, ownerKeyA, map[string]any{"firstName": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, path, ownerKeyA, map[string]any{"durationMinutes": 200000000000})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	var tooLong errorResponse
	require.NoError(t, json.Unmarshal(body, &tooLong))
	assert.Equal(t, "invalid_duration", tooLong.Reason)

	resp, body = e.do(t, http.MethodPatch, path, ownerKeyA, map[string]any{"startTime": "2030-01-01T07:00:00Z", "notes": "moved"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated models.Booking
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "moved", updated.Notes)
	assert.True(t, updated.EndAt.Equal(time.Date(2030, 1, 1, 7, 30, 0, 0, time.UTC)))

	resp, _ = e.do(t, http.MethodDelete, path, ownerKeyA, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, path, ownerKeyA, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/owner/bookings/abc", ownerKeyA, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOwnerEventTypes(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	et := createIntro(t, e, ownerKeyA)
	path := "/api/v1/owner/event-types/" + itoa(et.ID)

	resp, body := e.do(t, http.MethodPost, "/api/v1/owner/event-types", ownerKeyB, map[string]any{
		"slug": "intro", "name": "Copy", "timeZone": "UTC",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	resp, body = e.do(t, http.MethodPost, "/api/v1/owner/event-types", ownerKeyA, map[string]any{
		"slug": "api", "name": "Reserved", "timeZone": "UTC",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var errBody errorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "reserved_slug", errBody.Reason)

	resp, _ = e.do(t, http.MethodPost, "/api/v1/owner/event-types", ownerKeyA, map[string]any{
		"slug": "weekly", "name": "W", "timeZone": "UTC",
		"availability": []map[string]any{{"day": 9, "start": "09:00", "end": "10:00"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, path, ownerKeyA, map[string]any{"name": "Discovery", "recurringCount": 99, "allowRecurring": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated models.EventType
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.Equal(t, "Discovery", updated.Name)
	assert.Equal(t, models.MaxRecurringCount, updated.RecurringCount)

	resp, _ = e.do(t, http.MethodGet, path, ownerKeyB, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/v1/owner/event-types", ownerKeyA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []models.EventType
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)
}

func TestOwnerProfile(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/owner/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/api/v1/owner/me", ownerKeyA, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var me models.Owner
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "owner-a", me.ID)
	assert.Equal(t, "alice", me.ProfileSlug)

	resp, body = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyA, map[string]any{"profileSlug": "login"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	var errBody errorResponse
	require.NoError(t, json.Unmarshal(body, &errBody))
	assert.Equal(t, "reserved_slug", errBody.Reason)

	resp, _ = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyA, map[string]any{"profileSlug": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyA, map[string]any{"profileSlug": "bob"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyA, map[string]any{
		"fullName": "Alice Liddell", "profileSlug": "Dr-Alice", "timeZone": "Europe/Berlin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "dr-alice", me.ProfileSlug)
	assert.Equal(t, "Alice Liddell", me.FullName)

	// Bob cannot pick up the slug Alice left behind.
	resp, _ = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyB, map[string]any{"profileSlug": "alice"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPublicProfileLookup(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)

	resp, body := e.do(t, http.MethodGet, "/api/v1/public/profiles/reserved-slugs", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reserved reservedSlugsResponse
	require.NoError(t, json.Unmarshal(body, &reserved))
	assert.Len(t, reserved.Slugs, len(models.ReservedSlugs))
	assert.Contains(t, reserved.Slugs, "book")

	resp, body = e.do(t, http.MethodGet, "/api/v1/public/profiles/by-slug/ALICE", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"profileSlug":"alice"}`, string(body))

	resp, _ = e.do(t, http.MethodPatch, "/api/v1/owner/me", ownerKeyA, map[string]any{"profileSlug": "dr-alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/v1/public/profiles/by-slug/alice", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.JSONEq(t, `{"redirectTo":"/dr-alice"}`, string(body))

	for _, slug := range []string{"book", "nobody"} {
		resp, _ = e.do(t, http.MethodGet, "/api/v1/public/profiles/by-slug/"+slug, "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, slug)
	}
}

func TestRateLimits(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	cfg.PublicRateLimit = config.PublicRateLimitConfig{Limit: 1, Window: time.Hour}
	e := newTestEnv(t, cfg, nil)

	resp, _ := e.do(t, http.MethodGet, "/api/v1/owner/bookings", ownerKeyA, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/v1/owner/bookings", ownerKeyA, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	// Buckets are per key.
	resp, _ = e.do(t, http.MethodGet, "/api/v1/owner/bookings", ownerKeyB, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/v1/public/event-types/x", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/api/v1/public/event-types/x", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestUnknownRoute(t *testing.T) {
	e := newTestEnv(t, testAPIConfig(), nil)
	resp, _ := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPut, "/api/v1/public/bookings", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/public/event-types/:slug/slots", routeLabel("/api/v1/public/event-types/intro/slots"))
	assert.Equal(t, "/api/v1/owner/bookings/:id", routeLabel("/api/v1/owner/bookings/12"))
	assert.Equal(t, "/api/v1/public/profiles/by-slug/:slug", routeLabel("/api/v1/public/profiles/by-slug/alice"))
	assert.Equal(t, "/api/v1/owner/me", routeLabel("/api/v1/owner/me"))
	assert.Equal(t, "other", routeLabel("/wp-admin"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
