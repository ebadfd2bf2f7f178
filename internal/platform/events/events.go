// Package events publishes patient lifecycle notifications after the
// transaction that caused them has committed.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType names a lifecycle transition.
type EventType string

const (
	PatientCreated EventType = "patient.created"
	PatientUpdated EventType = "patient.updated"
	PatientDeleted EventType = "patient.deleted"
)

// Event is the payload sent to subscribers. It carries identifiers only,
// never patient demographics.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	PatientID     uuid.UUID `json:"patient_id"`
	Version       int64     `json:"version"`
	ChangedFields []string  `json:"changed_fields,omitempty"`
	Actor         string    `json:"actor,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// New stamps an event with an id and the current time.
func New(t EventType, patientID uuid.UUID, version int64) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		PatientID: patientID,
		Version:   version,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events. Publish must not block past ctx.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of what has been published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
