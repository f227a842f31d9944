package gateway

import (
	"log/slog"
	"sync"
	"time"

	"benchlink/internal/store"
)

// Event types
const (
	EventSettingChanged  = "setting_changed"
	EventFunctionChanged = "function_changed"
	EventReading         = "reading"
	EventProfileApplied  = "profile_applied"
	EventInstrumentError = "instrument_error"
	EventSequenceLog     = "sequence_log"
)

// Event is the envelope every service surface shares. Only the fields
// relevant to the event type are set; the rest marshal away. Emit
// stamps Time when the producer leaves it zero.
type Event struct {
	Type    string         `json:"type"`
	Time    time.Time      `json:"time"`
	Setting string         `json:"setting,omitempty"` // setting_changed, function_changed
	Value   any            `json:"value,omitempty"`   // setting_changed, function_changed
	Reading *store.Reading `json:"reading,omitempty"` // reading
	Profile string         `json:"profile,omitempty"` // profile_applied
	Message string         `json:"message,omitempty"` // instrument_error, sequence_log
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscriber struct {
	fn    EventHandler
	types map[string]struct{} // nil matches every type
}

// EventBus provides pub/sub for gateway events.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscriber
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[uint64]subscriber),
		logger: logger,
	}
}

// Subscribe registers a handler for the given event types; with no
// types it receives everything. Returns an unsubscribe function.
func (eb *EventBus) Subscribe(fn EventHandler, types ...string) func() {
	var filter map[string]struct{}
	if len(types) > 0 {
		filter = make(map[string]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}

	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs[id] = subscriber{fn: fn, types: filter}
	eb.mu.Unlock()

	return func() {
		eb.mu.Lock()
		delete(eb.subs, id)
		eb.mu.Unlock()
	}
}

// Emit sends an event to every matching subscriber. Handlers are
// called synchronously; a panicking handler is recovered.
func (eb *EventBus) Emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subs))
	for _, sub := range eb.subs {
		if sub.types != nil {
			if _, ok := sub.types[event.Type]; !ok {
				continue
			}
		}
		handlers = append(handlers, sub.fn)
	}
	eb.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
				}
			}()
			h(event)
		}()
	}
}
