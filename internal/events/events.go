package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventSlotCreated       = "slot_created"
	EventSlotCancelled     = "slot_cancelled"
	EventBookingBooked     = "booking_booked"
	EventBookingCancelled  = "booking_cancelled"
	EventBookingAttested   = "booking_attested"
	EventBookingChallenged = "booking_challenged"
	EventDisputeResolved   = "dispute_resolved"
	EventBookingFinalized  = "booking_finalized"
	EventRequestCreated    = "request_created"
	EventRequestAccepted   = "request_accepted"
	EventRequestCancelled  = "request_cancelled"
	EventFundsSwept        = "funds_swept"
)

// SlotEventPayload describes a slot lifecycle change for event consumers.
type SlotEventPayload struct {
	SlotID int64  `json:"slot_id"`
	Host   string `json:"host"`
	Price  int64  `json:"price,omitempty"`
	Count  int    `json:"count,omitempty"`
}

// BookingEventPayload is the booking snapshot events carry. ActedBy is the
// account whose operation caused the change.
type BookingEventPayload struct {
	BookingID     int64  `json:"booking_id"`
	SlotID        int64  `json:"slot_id"`
	Guest         string `json:"guest"`
	Host          string `json:"host,omitempty"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	Outcome       string `json:"outcome,omitempty"`
	Bond          int64  `json:"bond,omitempty"`
	FinalizableAt int64  `json:"finalizable_at,omitempty"`
	ActedBy       string `json:"acted_by,omitempty"`
}

// RequestEventPayload describes a request lifecycle change.
type RequestEventPayload struct {
	RequestID  int64  `json:"request_id"`
	Guest      string `json:"guest"`
	HostTarget string `json:"host_target,omitempty"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	Host       string `json:"host,omitempty"`
	SlotID     int64  `json:"slot_id,omitempty"`
	BookingID  int64  `json:"booking_id,omitempty"`
}

// SweepEventPayload reports surplus recovered to the treasury.
type SweepEventPayload struct {
	Amount   int64  `json:"amount"`
	Treasury string `json:"treasury"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		_ = handler(event)
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
