package adapter

import (
	"log/slog"
	"slices"
	"sync"
)

// Event types emitted on the bus.
const (
	EventDeviceAdded     = "device_added"
	EventPropertyChanged = "property_changed"
	EventUnitStatus      = "unit_status"
	EventControllerState = "controller_state"
)

// Event is a notification published by the adapter.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventHandler is a callback for events.
type EventHandler func(Event)

type subscription struct {
	id        uint64
	eventType string // empty matches every type
	fn        EventHandler
}

// EventBus fans adapter events out to subscribers in subscription order.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{logger: logger}
}

// On registers a handler for one event type and returns its unsubscribe func.
func (eb *EventBus) On(eventType string, handler EventHandler) func() {
	return eb.subscribe(eventType, handler)
}

// OnAll registers a handler for every event and returns its unsubscribe func.
func (eb *EventBus) OnAll(handler EventHandler) func() {
	return eb.subscribe("", handler)
}

func (eb *EventBus) subscribe(eventType string, handler EventHandler) func() {
	eb.mu.Lock()
	id := eb.nextID
	eb.nextID++
	eb.subs = append(eb.subs, subscription{id: id, eventType: eventType, fn: handler})
	eb.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			eb.mu.Lock()
			defer eb.mu.Unlock()
			eb.subs = slices.DeleteFunc(eb.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Emit calls the matching handlers synchronously on the caller's goroutine.
// A panicking handler is logged and does not stop delivery to the rest.
func (eb *EventBus) Emit(event Event) {
	eb.mu.RLock()
	var targets []EventHandler
	for _, s := range eb.subs {
		if s.eventType == "" || s.eventType == event.Type {
			targets = append(targets, s.fn)
		}
	}
	eb.mu.RUnlock()

	for _, fn := range targets {
		eb.deliver(fn, event)
	}
}

func (eb *EventBus) deliver(fn EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	fn(event)
}
