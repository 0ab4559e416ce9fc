// Package websocket pushes gateway events to browser clients
package websocket

import (
	"encoding/json"
	"time"
)

// EventType represents the type of a pushed event
type EventType string

const (
	EventTypeHeartbeat      EventType = "heartbeat"
	EventTypePullStarted    EventType = "pull_started"
	EventTypePullProgress   EventType = "pull_progress"
	EventTypePullFinished   EventType = "pull_finished"
	EventTypeModelSwitched  EventType = "model_switched"
	EventTypeModelDeleted   EventType = "model_deleted"
	EventTypeConfigSaved    EventType = "config_saved"
	EventTypeFamilyReloaded EventType = "family_reloaded"
)

// Event is the JSON frame sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// Emitter is implemented by anything that can publish events
type Emitter interface {
	Emit(eventType EventType, data interface{})
}

// Discard drops every event
type Discard struct{}

// Emit implements Emitter
func (Discard) Emit(EventType, interface{}) {}
