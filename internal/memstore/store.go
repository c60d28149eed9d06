package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/lock"
	"slotkeeper/internal/metrics"
	"slotkeeper/internal/models"

	"github.com/rs/zerolog"
)

// Store keeps the ledger in memory. With a path it also persists every
// commit to a JSON file, swapping state only after the file is written.
// Writes for one owner are serialized by a keyed mutex.
type Store struct {
	mu     sync.RWMutex
	state  *state
	path   string
	locks  *lock.KeyedMutex
	logger *zerolog.Logger
	now    func() time.Time
}

type state struct {
	EventTypes      map[int64]*models.EventType `json:"eventTypes"`
	Bookings        map[int64]*models.Booking   `json:"bookings"`
	Profiles        map[string]*models.Owner    `json:"profiles"`
	Redirects       map[string]string           `json:"slugRedirects"`
	NextEventTypeID int64                       `json:"nextEventTypeId"`
	NextBookingID   int64                       `json:"nextBookingId"`
}

func newState() *state {
	return &state{
		EventTypes:      make(map[int64]*models.EventType),
		Bookings:        make(map[int64]*models.Booking),
		Profiles:        make(map[string]*models.Owner),
		Redirects:       make(map[string]string),
		NextEventTypeID: 1,
		NextBookingID:   1,
	}
}

func (s *state) clone() *state {
	c := &state{
		EventTypes:      make(map[int64]*models.EventType, len(s.EventTypes)),
		Bookings:        make(map[int64]*models.Booking, len(s.Bookings)),
		Profiles:        make(map[string]*models.Owner, len(s.Profiles)),
		Redirects:       make(map[string]string, len(s.Redirects)),
		NextEventTypeID: s.NextEventTypeID,
		NextBookingID:   s.NextBookingID,
	}
	for id, et := range s.EventTypes {
		c.EventTypes[id] = et
	}
	for id, b := range s.Bookings {
		c.Bookings[id] = b
	}
	for id, o := range s.Profiles {
		c.Profiles[id] = o
	}
	for slug, owner := range s.Redirects {
		c.Redirects[slug] = owner
	}
	return c
}

// New returns a purely in-memory store.
func New(logger *zerolog.Logger) *Store {
	l := logger.With().Str("component", "memstore").Logger()
	return &Store{
		state:  newState(),
		locks:  lock.NewKeyedMutex(),
		logger: &l,
		now:    time.Now,
	}
}

// Open returns a store backed by the JSON file at path, loading it if present.
func Open(path string, logger *zerolog.Logger) (*Store, error) {
	s := New(logger)
	s.path = path

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info().Str("path", path).Msg("Data file not found, starting empty")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}

	loaded := newState()
	if len(data) > 0 {
		if err := json.Unmarshal(data, loaded); err != nil {
			return nil, fmt.Errorf("failed to decode data file %s: %w", path, err)
		}
	}
	if loaded.EventTypes == nil {
		loaded.EventTypes = make(map[int64]*models.EventType)
	}
	if loaded.Bookings == nil {
		loaded.Bookings = make(map[int64]*models.Booking)
	}
	if loaded.Profiles == nil {
		loaded.Profiles = make(map[string]*models.Owner)
	}
	if loaded.Redirects == nil {
		loaded.Redirects = make(map[string]string)
	}
	for id := range loaded.EventTypes {
		if id >= loaded.NextEventTypeID {
			loaded.NextEventTypeID = id + 1
		}
	}
	for id := range loaded.Bookings {
		if id >= loaded.NextBookingID {
			loaded.NextBookingID = id + 1
		}
	}
	s.state = loaded
	s.logger.Info().
		Str("path", path).
		Int("event_types", len(loaded.EventTypes)).
		Int("bookings", len(loaded.Bookings)).
		Int("profiles", len(loaded.Profiles)).
		Msg("Data file loaded")
	return s, nil
}

func (s *Store) backend() string {
	if s.path == "" {
		return "memory"
	}
	return "file"
}

// mutate applies fn to the live state, or to a copy that replaces the live
// state once it has been persisted.
func (s *Store) mutate(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return fn(s.state)
	}

	next := s.state.clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Store) persist(st *state) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".slotkeeper-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close data file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

func (s *Store) CreateEventType(ctx context.Context, et *models.EventType) error {
	return s.mutate(func(st *state) error {
		slug := normalizeSlug(et.Slug)
		for _, existing := range st.EventTypes {
			if existing.Slug == slug {
				return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
			}
		}
		now := s.now().UTC()
		c := et.Clone()
		c.ID = st.NextEventTypeID
		c.Slug = slug
		c.CreatedAt = now
		c.UpdatedAt = now
		st.NextEventTypeID++
		st.EventTypes[c.ID] = c

		et.ID, et.Slug, et.CreatedAt, et.UpdatedAt = c.ID, c.Slug, c.CreatedAt, c.UpdatedAt
		return nil
	})
}

func (s *Store) UpdateEventType(ctx context.Context, et *models.EventType) error {
	return s.mutate(func(st *state) error {
		current, ok := st.EventTypes[et.ID]
		if !ok {
			return fmt.Errorf("event type %d: %w", et.ID, domain.ErrNotFound)
		}
		slug := normalizeSlug(et.Slug)
		for id, existing := range st.EventTypes {
			if id != et.ID && existing.Slug == slug {
				return fmt.Errorf("event type %q: %w", slug, domain.ErrSlugTaken)
			}
		}
		c := et.Clone()
		c.Slug = slug
		c.OwnerID = current.OwnerID
		c.CreatedAt = current.CreatedAt
		c.UpdatedAt = s.now().UTC()
		st.EventTypes[c.ID] = c

		et.Slug, et.OwnerID, et.CreatedAt, et.UpdatedAt = c.Slug, c.OwnerID, c.CreatedAt, c.UpdatedAt
		return nil
	})
}

func (s *Store) GetEventType(ctx context.Context, id int64) (*models.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	et, ok := s.state.EventTypes[id]
	if !ok {
		return nil, fmt.Errorf("event type %d: %w", id, domain.ErrNotFound)
	}
	return et.Clone(), nil
}

func (s *Store) GetEventTypeBySlug(ctx context.Context, slug string) (*models.EventType, error) {
	slug = normalizeSlug(slug)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, et := range s.state.EventTypes {
		if et.Slug == slug {
			return et.Clone(), nil
		}
	}
	return nil, fmt.Errorf("event type %q: %w", slug, domain.ErrNotFound)
}

func (s *Store) ListEventTypes(ctx context.Context, ownerID string) ([]*models.EventType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.EventType, 0)
	for _, et := range s.state.EventTypes {
		if et.OwnerID == ownerID {
			out = append(out, et.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOverlapping(s.state.Bookings, nil, ownerID, start, end, excludeID), nil
}

func (s *Store) BookingsIntersecting(ctx context.Context, ownerID string, rangeStart, rangeEnd time.Time) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(b *models.Booking) bool {
		return b.OwnerID == ownerID && b.Overlaps(rangeStart, rangeEnd)
	}), nil
}

func (s *Store) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.Bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *Store) ListBookings(ctx context.Context, ownerID string) ([]*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(b *models.Booking) bool { return b.OwnerID == ownerID }), nil
}

func (s *Store) ListRecurringGroup(ctx context.Context, groupID string) ([]*models.Booking, error) {
	if groupID == "" {
		return []*models.Booking{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(b *models.Booking) bool { return b.RecurringGroupID == groupID }), nil
}

// collect must be called with s.mu held.
func (s *Store) collect(keep func(b *models.Booking) bool) []*models.Booking {
	out := make([]*models.Booking, 0)
	for _, b := range s.state.Bookings {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	sortBookings(out)
	return out
}

func (s *Store) DeleteBooking(ctx context.Context, id int64) error {
	return s.mutate(func(st *state) error {
		if _, ok := st.Bookings[id]; !ok {
			return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
		}
		delete(st.Bookings, id)
		return nil
	})
}

// WithOwnerLock stages fn's writes in a tx and commits them in one swap.
func (s *Store) WithOwnerLock(ctx context.Context, ownerID string, fn func(tx domain.LedgerTx) error) error {
	waitStart := time.Now()
	unlock, err := s.locks.Lock(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("acquire owner lock: %w", err)
	}
	defer unlock()
	if wait := time.Since(waitStart); wait > lock.SlowWait {
		s.logger.Warn().Str("owner_id", ownerID).Dur("wait", wait).Msg("Slow owner lock acquisition")
	}

	started := time.Now()
	defer func() { metrics.ObserveCriticalSection(s.backend(), time.Since(started)) }()

	tx := &memTx{store: s, staged: make(map[int64]*models.Booking), inserted: make(map[int64]bool)}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	if len(tx.staged) == 0 {
		return nil
	}
	return s.mutate(func(st *state) error {
		for id := range tx.staged {
			if _, ok := st.Bookings[id]; !ok && !tx.inserted[id] {
				return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
			}
		}
		now := s.now().UTC()
		for id, b := range tx.staged {
			c := b.Clone()
			if prev, ok := st.Bookings[id]; ok {
				c.CreatedAt = prev.CreatedAt
			} else {
				c.CreatedAt = now
			}
			c.UpdatedAt = now
			st.Bookings[id] = c
		}
		if tx.maxID >= st.NextBookingID {
			st.NextBookingID = tx.maxID + 1
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// memTx reads committed state merged with its own staged rows.
type memTx struct {
	store    *Store
	staged   map[int64]*models.Booking
	inserted map[int64]bool
	maxID    int64
}

func (t *memTx) FindOverlapping(ctx context.Context, ownerID string, start, end time.Time, excludeID int64) (*models.Booking, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return findOverlapping(t.store.state.Bookings, t.staged, ownerID, start, end, excludeID), nil
}

func (t *memTx) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	if b, ok := t.staged[id]; ok {
		return b.Clone(), nil
	}
	return t.store.GetBooking(ctx, id)
}

func (t *memTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	t.store.mu.Lock()
	// ids are handed out eagerly so they stay unique across concurrent owners
	id := t.store.state.NextBookingID
	t.store.state.NextBookingID++
	t.store.mu.Unlock()

	b.ID = id
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	t.staged[id] = b.Clone()
	t.inserted[id] = true
	if id > t.maxID {
		t.maxID = id
	}
	return nil
}

func (t *memTx) UpdateBooking(ctx context.Context, b *models.Booking) error {
	if _, ok := t.staged[b.ID]; !ok {
		if _, err := t.store.GetBooking(ctx, b.ID); err != nil {
			return err
		}
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	t.staged[b.ID] = b.Clone()
	return nil
}

func findOverlapping(committed, staged map[int64]*models.Booking, ownerID string, start, end time.Time, excludeID int64) *models.Booking {
	var hit *models.Booking
	consider := func(b *models.Booking) {
		if b.ID == excludeID || b.OwnerID != ownerID || !b.Overlaps(start, end) {
			return
		}
		if hit == nil || b.StartAt.Before(hit.StartAt) {
			hit = b
		}
	}
	for id, b := range committed {
		if _, shadowed := staged[id]; shadowed {
			continue
		}
		consider(b)
	}
	for _, b := range staged {
		consider(b)
	}
	return hit.Clone()
}

func sortBookings(bs []*models.Booking) {
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].StartAt.Equal(bs[j].StartAt) {
			return bs[i].ID < bs[j].ID
		}
		return bs[i].StartAt.Before(bs[j].StartAt)
	})
}
