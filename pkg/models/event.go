package models

import (
	"encoding/json"
	"time"
)

// Event types carried on the overlay stream
const (
	EventTypeHello           = "hello"
	EventTypeMeters          = "meters"
	EventTypeListenerStarted = "listener.started"
	EventTypeListenerStopped = "listener.stopped"
)

// Event is a single overlay event scoped to one streamer. Events are
// ephemeral: built on ingestion (or synthesized), fanned out once and dropped.
type Event struct {
	Type       string          `json:"type"`
	TS         time.Time       `json:"ts"`
	StreamerID string          `json:"streamerId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Faction is one scored team on the overlay meter display
type Faction struct {
	Key   string  `json:"key"`
	Meter float64 `json:"meter"`
}

// MetersPayload is the payload of a meters event
type MetersPayload struct {
	Factions []Faction `json:"factions"`
}

// HelloPayload is the payload of the hello frame sent on stream connect
type HelloPayload struct {
	OK bool `json:"ok"`
}

// NewEvent builds an event with a marshaled payload. Marshal failures return
// an event with an empty payload rather than an error; payload types here are
// all plain data and cannot fail to encode in practice.
func NewEvent(eventType, streamerID string, payload interface{}) Event {
	ev := Event{
		Type:       eventType,
		TS:         time.Now().UTC(),
		StreamerID: streamerID,
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}
	return ev
}

// NewMetersEvent builds a meters event for a streamer
func NewMetersEvent(streamerID string, factions []Faction) Event {
	return NewEvent(EventTypeMeters, streamerID, MetersPayload{Factions: factions})
}

// NewHelloEvent builds the hello frame for a freshly connected client
func NewHelloEvent(streamerID string) Event {
	return NewEvent(EventTypeHello, streamerID, HelloPayload{OK: true})
}
