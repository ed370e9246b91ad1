// Package bus provides the internal event distribution system for HelaChat.
// Pipeline stages, the dispatcher, and the messaging layer publish lifecycle
// events here; the metrics collector and the WebSocket observer consume them.
package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType represents the type of event flowing through the bus.
type EventType string

// Event types for the message-processing pipeline.
const (
	// Message lifecycle events
	EventMessageReceived EventType = "message_received"
	EventMessageQueued   EventType = "message_queued"
	EventReplySent       EventType = "reply_sent"

	// Turn lifecycle events
	EventTurnStarted   EventType = "turn_started"
	EventTurnCompleted EventType = "turn_completed"
	EventTurnFailed    EventType = "turn_failed"

	// Stage events
	EventStageCompleted EventType = "stage_completed"

	// Knowledge events
	EventKnowledgeRebuilt EventType = "knowledge_rebuilt"

	// System events
	EventHeartbeat EventType = "heartbeat"
)

// Event is a single pipeline event.
type Event struct {
	// Core identification
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Turn tracking
	TurnID     string `json:"turn_id,omitempty"`
	BusinessID int64  `json:"business_id,omitempty"`
	MessageID  int64  `json:"message_id,omitempty"`

	// Stage information
	Stage string `json:"stage,omitempty"`

	// Outcome metrics
	Confidence  int   `json:"confidence,omitempty"`
	ResultCount int   `json:"result_count,omitempty"`
	DurationMs  int64 `json:"duration_ms,omitempty"`

	// Content
	Language string `json:"language,omitempty"`
	Details  string `json:"details,omitempty"`

	// Error information
	Error string `json:"error,omitempty"`
}

// eventIDCounter for generating unique event IDs.
var eventIDCounter atomic.Uint64

// generateEventID creates a unique event identifier.
func generateEventID() string {
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter.Add(1))
}

// NewEvent creates a new event with the current timestamp and generated ID.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}

// NewTurnEvent creates an event carrying turn identity.
func NewTurnEvent(eventType EventType, turnID string, businessID int64) Event {
	e := NewEvent(eventType)
	e.TurnID = turnID
	e.BusinessID = businessID
	return e
}

// NewStageEvent creates a stage completion event.
func NewStageEvent(turnID string, businessID int64, stage string, resultCount int, duration time.Duration) Event {
	e := NewTurnEvent(EventStageCompleted, turnID, businessID)
	e.Stage = stage
	e.ResultCount = resultCount
	e.DurationMs = duration.Milliseconds()
	return e
}
