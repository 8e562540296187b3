// Package broadcast fans job lifecycle events out to API subscribers.
// Delivery is fire and forget: pipeline progress never waits on a slow
// listener, and a full subscriber buffer drops the event.
package broadcast

import (
	"encoding/json"
	"time"
)

// Event types carried on the stream.
const (
	TypeJobUpdate   = "job_update"
	TypeStatsUpdate = "stats_update"
)

const timestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Event is one frame on the event stream.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// NewEvent builds a frame of the given type around an encodable payload.
func NewEvent(eventType string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(timestampFormat),
	}, nil
}
