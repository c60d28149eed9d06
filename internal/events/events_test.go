package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusPublishJSON(t *testing.T) {
	bus := NewEventBus()

	var received []*Event
	bus.Subscribe(EventBookingCreated, func(event *Event) error {
		received = append(received, event)
		return nil
	})

	start := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: 7, OwnerID: "owner-1", StartAt: start})
	require.NoError(t, err)

	require.Len(t, received, 1)
	assert.Equal(t, EventBookingCreated, received[0].Type)
	assert.NotEmpty(t, received[0].ID)
	assert.False(t, received[0].CreatedAt.IsZero())

	var decoded BookingEventPayload
	require.NoError(t, json.Unmarshal(received[0].Payload, &decoded))
	assert.Equal(t, int64(7), decoded.BookingID)
	assert.True(t, decoded.StartAt.Equal(start))
}

func TestEventBusJoinsHandlerErrors(t *testing.T) {
	bus := NewEventBus()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	var calls int

	bus.Subscribe(EventBookingDeleted, func(_ *Event) error { calls++; return errA })
	bus.Subscribe(EventBookingDeleted, func(_ *Event) error { calls++; return nil })
	bus.Subscribe(EventBookingDeleted, func(_ *Event) error { calls++; return errB })

	err := bus.Publish(&Event{Type: EventBookingDeleted})
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus()
	assert.NoError(t, bus.Publish(&Event{Type: "unknown"}))
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON(EventBookingCreated, nil))
}

func TestPublishJSONMarshalError(t *testing.T) {
	bus := NewEventBus()
	err := bus.PublishJSON(EventBookingUpdated, make(chan int))
	assert.Error(t, err)
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
	got    chan struct{}
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	w.msgs = append(w.msgs, msgs...)
	w.mu.Unlock()
	w.got <- struct{}{}
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaForwarder(t *testing.T) {
	logger := zerolog.Nop()
	writer := &fakeWriter{got: make(chan struct{}, 4)}
	fwd := NewKafkaForwarder(writer, 4, &logger)

	bus := NewEventBus()
	fwd.Attach(bus, BookingTypes...)
	fwd.Start(context.Background())

	err := bus.PublishJSON(EventBookingCreated, BookingEventPayload{BookingID: 9, OwnerID: "owner-7"})
	require.NoError(t, err)

	select {
	case <-writer.got:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not forwarded")
	}

	require.NoError(t, fwd.Close())
	assert.True(t, writer.closed)

	require.Len(t, writer.msgs, 1)
	assert.Equal(t, "owner-7", string(writer.msgs[0].Key))
	assert.Equal(t, EventBookingCreated, string(writer.msgs[0].Headers[0].Value))
	assert.NotEmpty(t, string(writer.msgs[0].Headers[1].Value))
}

func TestKafkaForwarderDropsWhenFull(t *testing.T) {
	logger := zerolog.Nop()
	writer := &fakeWriter{got: make(chan struct{}, 4)}
	fwd := NewKafkaForwarder(writer, 1, &logger)

	// not started, so the single slot fills up
	assert.NoError(t, fwd.enqueue(&Event{Type: EventBookingDeleted}))
	assert.NoError(t, fwd.enqueue(&Event{Type: EventBookingDeleted}))
	assert.Len(t, fwd.queue, 1)
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "bookings")
	assert.Equal(t, "bookings", w.Topic)
	assert.NoError(t, w.Close())
}
