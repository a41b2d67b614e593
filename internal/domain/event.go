package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// Actor lifecycle.
	EventActorRegistered EventType = "actor.registered"
	EventActorReady      EventType = "actor.ready"
	EventActorClosed     EventType = "actor.closed"

	// Desktop collaborators.
	EventNotificationShown    EventType = "notification.shown"
	EventNotificationResolved EventType = "notification.resolved"
	EventAlarmScheduled       EventType = "alarm.scheduled"
	EventAlarmFired           EventType = "alarm.fired"
	EventUpdateAvailable      EventType = "update.available"
	EventLanguageChanged      EventType = "language.changed"
	EventConfigChanged        EventType = "config.changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ActorID   ActorID         `json:"actor_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event with the current time and a JSON-encoded payload.
// A payload that fails to encode is dropped rather than failing the publish.
func NewEvent(t EventType, actor ActorID, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now(), ActorID: actor}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
