package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeMessage carries a raw command payload from any inbound source
	EventTypeMessage EventType = "message"
	// EventTypeConnected is published when the broker connection is (re)established
	EventTypeConnected EventType = "connected"
)

// Sources of inbound messages
const (
	SourceMQTT = "mqtt"
	SourceHTTP = "http"
)

// DefaultQueueSize is used when no queue size is configured
const DefaultQueueSize = 100

// Event represents an event in the system
type Event struct {
	Type     EventType
	ID       string // unique per inbound message
	Source   string
	Topic    string
	Payload  []byte
	Received time.Time
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the dispatcher
type work struct {
	event   Event
	handler Handler
}

// Bus routes events to handlers on a single dispatch goroutine.
// Handlers therefore never run concurrently with each other and see events in
// publish order, which lets them own state without locking.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	done      chan struct{}

	// Shutdown signaling - closing this channel signals publishers to stop.
	// closeMu keeps a Publish from sending on the queue while Close closes it.
	closing   chan struct{}
	closeOnce sync.Once
	closeMu   sync.RWMutex
}

// New creates a new event bus with the default queue size
func New() *Bus {
	return NewWithQueueSize(DefaultQueueSize)
}

// NewWithQueueSize creates a new event bus with a custom queue size
func NewWithQueueSize(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}

	go b.dispatch()

	log.Debug().Int("queue_size", queueSize).Msg("Event bus dispatcher started")
	return b
}

// dispatch processes events from the work queue in order
func (b *Bus) dispatch() {
	defer close(b.done)

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Str("event_id", w.event.ID).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish queues an event for all subscribed handlers.
// Non-blocking: if the work queue is full or bus is closing, events are dropped.
// Returns false if the event was dropped for any handler.
func (b *Bus) Publish(event Event) bool {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	queued := true
	for _, handler := range handlers {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return false
		default:
		}

		select {
		case b.workQueue <- work{event: event, handler: handler}:
			// Successfully queued
		default:
			// Queue full - drop event with warning
			log.Warn().
				Str("event_type", string(event.Type)).
				Str("event_id", event.ID).
				Msg("Event bus queue full, dropping event")
			queued = false
		}
	}
	return queued
}

// Close stops accepting events, drains the queue and waits for the dispatcher.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)

		// wait for in-flight publishers before closing the queue
		b.closeMu.Lock()
		close(b.workQueue)
		b.closeMu.Unlock()
	})

	select {
	case <-b.done:
		log.Debug().Msg("Event bus dispatcher stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}
