package events

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	EventBookingReserved  = "booking.reserved"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingFailed    = "booking.failed"
	EventBookingCancelled = "booking.cancelled"
	EventBookingExpired   = "booking.expired"
)

// LifecycleEvents lists every booking event type the ledger publishes
var LifecycleEvents = []string{
	EventBookingReserved,
	EventBookingConfirmed,
	EventBookingFailed,
	EventBookingCancelled,
	EventBookingExpired,
}

// BookingEventPayload is the booking snapshot handed to subscribers
type BookingEventPayload struct {
	BookingID   uuid.UUID `json:"booking_id"`
	SpaceID     uuid.UUID `json:"space_id"`
	RequesterID uuid.UUID `json:"requester_id"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	AmountDue   int64     `json:"amount_due"`
	Reason      string    `json:"reason,omitempty"`
}

// Event is a lightweight domain event
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for booking lifecycle events
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers synchronously and collects handler errors
func (b *EventBus) Publish(event *Event) []error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := handler(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// PublishJSON serializes the payload and publishes an event. Subscriber
// errors are joined into the returned error. A nil bus is a no-op.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return errors.Join(b.Publish(&Event{Type: eventType, Payload: data})...)
}

// Decode unmarshals a booking payload from an event
func Decode(event *Event) (*BookingEventPayload, error) {
	var p BookingEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
