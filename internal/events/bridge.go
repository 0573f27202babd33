package events

import (
	"sessiond/internal/metrics"

	"github.com/rs/zerolog"
)

// allEventTypes is the full engine event vocabulary. New constants must be
// added here or the observer bridge never sees them.
var allEventTypes = []string{
	EventSlotCreated,
	EventSlotCancelled,
	EventBookingBooked,
	EventBookingCancelled,
	EventBookingAttested,
	EventBookingChallenged,
	EventDisputeResolved,
	EventBookingFinalized,
	EventRequestCreated,
	EventRequestAccepted,
	EventRequestCancelled,
	EventFundsSwept,
}

// AttachObservers subscribes the logging and metrics bridge for every
// engine event type. External consumers (webhooks, brokers) subscribe the
// same way at wiring time.
func AttachObservers(bus *EventBus, logger *zerolog.Logger) {
	base := zerolog.Nop()
	if logger != nil {
		base = logger.With().Str("component", "event_bridge").Logger()
	}

	observer := func(ev *Event) error {
		metrics.IncEvent(ev.Type)
		entry := base.Info().Str("event", ev.Type)
		if len(ev.Payload) > 0 {
			entry = entry.RawJSON("payload", ev.Payload)
		}
		entry.Msg("engine event")
		return nil
	}

	for _, eventType := range allEventTypes {
		bus.Subscribe(eventType, observer)
	}
}
