package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingCreated = "booking_created"
	EventBookingUpdated = "booking_updated"
	EventBookingDeleted = "booking_deleted"
)

// BookingTypes lists every booking event the service emits.
var BookingTypes = []string{EventBookingCreated, EventBookingUpdated, EventBookingDeleted}

// BookingEventPayload is the booking snapshot carried by every booking event.
type BookingEventPayload struct {
	BookingID        int64     `json:"booking_id"`
	EventTypeID      int64     `json:"event_type_id"`
	EventTypeSlug    string    `json:"event_type_slug,omitempty"`
	OwnerID          string    `json:"owner_id"`
	StartAt          time.Time `json:"start_at"`
	EndAt            time.Time `json:"end_at"`
	RecurringGroupID string    `json:"recurring_group_id,omitempty"`
	SessionCount     int       `json:"session_count,omitempty"`
	ChangedBy        string    `json:"changed_by,omitempty"`
}

type Event struct {
	ID        string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

type EventHandler func(event *Event) error

// EventBus fans events out to in-process subscribers. Handlers run
// synchronously on the publishing goroutine.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish delivers event to every handler of its type. All handlers run
// even when one fails; their errors are joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := b.subscribers[event.Type]
	b.mu.RUnlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	var errs []error
	for _, h := range handlers {
		if err := h(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishJSON marshals payload and publishes it. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return b.Publish(&Event{Type: eventType, Payload: raw})
}
