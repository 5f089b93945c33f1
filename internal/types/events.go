package types

import "time"

// EventType represents the type of job lifecycle event
type EventType string

const (
	EventClaimed      EventType = "transcode.claimed"
	EventDone         EventType = "transcode.done"
	EventFailed       EventType = "transcode.failed"
	EventSkipped      EventType = "transcode.skipped"
	EventInconsistent EventType = "transcode.inconsistent"
)

// Event represents a job event published for other services to consume
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// JobEvent describes one row attempt
type JobEvent struct {
	AttemptID string `json:"attempt_id"`
	Table     string `json:"table"`
	RecordID  string `json:"record_id"`
	Column    string `json:"column,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, data interface{}) *Event {
	return &Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
