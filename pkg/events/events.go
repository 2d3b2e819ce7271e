// Package events records audit events for state transitions of plans and
// profiles.
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action names a recorded transition.
type Action string

const (
	ActionSubmit    Action = "SUBMIT"
	ActionApprove   Action = "APPROVE"
	ActionReject    Action = "REJECT"
	ActionDeprecate Action = "DEPRECATE"
	ActionEdit      Action = "EDIT"
	ActionOverride  Action = "OVERRIDE"
)

// Entity types.
const (
	EntityPlan    = "plan"
	EntityProfile = "profile"
)

// Event is one audit record.
type Event struct {
	ID         string            `json:"event_id"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Action     Action            `json:"action"`
	UserID     string            `json:"user_id"`
	Timestamp  time.Time         `json:"timestamp"`
	Reason     string            `json:"reason,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// New builds an event with a fresh random id.
func New(entityType, entityID string, action Action, userID string, at time.Time, reason string) Event {
	return Event{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		UserID:     userID,
		Timestamp:  at.UTC(),
		Reason:     reason,
	}
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) error { return nil }

// MemoryLog is an in-memory Recorder, safe for concurrent use.
type MemoryLog struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryLog creates an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Record implements Recorder.
func (l *MemoryLog) Record(_ context.Context, event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

// ForEntity returns the events of one entity in timestamp order.
func (l *MemoryLog) ForEntity(entityType, entityID string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, e := range l.events {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// All returns a copy of every recorded event.
func (l *MemoryLog) All() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}
