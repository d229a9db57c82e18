// Package stream broadcasts run progress to WebSocket subscribers. The
// runner publishes events; clients subscribe to a single run and receive its
// job transitions and output lines as they happen.
package stream

import (
	"time"
)

// EventType classifies a run progress event.
type EventType string

const (
	EventRunCreated  EventType = "run.created"
	EventJobStarted  EventType = "job.started"
	EventJobLog      EventType = "job.log"
	EventJobFinished EventType = "job.finished"
	EventRunFinished EventType = "run.finished"
)

// Event is a single progress event for a run.
type Event struct {
	Type        EventType `json:"type"`
	RunID       string    `json:"run_id"`
	JobID       string    `json:"job_id,omitempty"`
	Environment string    `json:"environment,omitempty"`
	Status      string    `json:"status,omitempty"`
	Line        string    `json:"line,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Sink receives published events. The hub implements it; NopSink discards
// everything for one-shot runs with nobody watching.
type Sink interface {
	Publish(event Event)
}

// NopSink drops all events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(Event) {}
