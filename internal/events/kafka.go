package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the forwarder needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that hashes by key, keeping one owner's
// events ordered.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaForwarder copies bus events to Kafka from a background goroutine so
// publishers never wait on the broker. Events beyond the buffer are dropped.
type KafkaForwarder struct {
	writer  MessageWriter
	queue   chan *Event
	logger  *zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
}

func NewKafkaForwarder(writer MessageWriter, buffer int, logger *zerolog.Logger) *KafkaForwarder {
	if buffer <= 0 {
		buffer = 256
	}
	l := logger.With().Str("component", "kafka_forwarder").Logger()
	return &KafkaForwarder{
		writer:  writer,
		queue:   make(chan *Event, buffer),
		logger:  &l,
		timeout: 5 * time.Second,
	}
}

// Attach subscribes the forwarder to every event type in types.
func (f *KafkaForwarder) Attach(bus *EventBus, types ...string) {
	for _, t := range types {
		bus.Subscribe(t, f.enqueue)
	}
}

func (f *KafkaForwarder) enqueue(event *Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil
	}
	select {
	case f.queue <- event:
	default:
		f.logger.Warn().Str("event_type", event.Type).Msg("Kafka queue full, dropping event")
	}
	return nil
}

// Start drains the queue until ctx is done or Close is called.
func (f *KafkaForwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-f.queue:
				if !ok {
					return
				}
				f.forward(ctx, event)
			}
		}
	}()
}

func (f *KafkaForwarder) forward(ctx context.Context, event *Event) {
	writeCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   messageKey(event),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
	if err := f.writer.WriteMessages(writeCtx, msg); err != nil {
		f.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to forward event to Kafka")
	}
}

// messageKey partitions by owner when the payload carries one.
func messageKey(event *Event) []byte {
	var probe struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.Unmarshal(event.Payload, &probe); err == nil && probe.OwnerID != "" {
		return []byte(probe.OwnerID)
	}
	return []byte(event.Type)
}

// Close stops accepting events, waits for the worker and closes the writer.
func (f *KafkaForwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
	return f.writer.Close()
}
