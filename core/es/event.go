package es

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/codewandler/evstore/internal/reflector"
)

// Event is a domain event handed to StoreEvents. The store assigns its
// version; ID, Type, Payload, Metadata and OccurredAt are taken as given.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

type EventOption func(*Event)

func WithEventID(id string) EventOption      { return func(e *Event) { e.ID = id } }
func WithEventType(t string) EventOption     { return func(e *Event) { e.Type = t } }
func WithOccurredAt(t time.Time) EventOption { return func(e *Event) { e.OccurredAt = t } }

// WithMetadata merges md into the event metadata.
func WithMetadata(md map[string]any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(md))
		}
		maps.Copy(e.Metadata, md)
	}
}

// NewEvent encodes payload as JSON. The event type defaults to the payload's
// EventType() method when present, otherwise to its Go type name.
func NewEvent(payload any, opts ...EventOption) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode payload: %w", ErrInvalidArgument, err)
	}
	ev := Event{
		Type:       EventTypeOf(payload),
		Payload:    data,
		OccurredAt: time.Now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev, nil
}

// MustEvent is NewEvent for payloads that are known to encode.
func MustEvent(payload any, opts ...EventOption) Event {
	ev, err := NewEvent(payload, opts...)
	if err != nil {
		panic(err)
	}
	return ev
}

// EventTypeOf derives the event type tag for payload.
func EventTypeOf(payload any) string {
	if t, ok := payload.(interface{ EventType() string }); ok {
		return t.EventType()
	}
	return reflector.NameOf(payload).Name
}
