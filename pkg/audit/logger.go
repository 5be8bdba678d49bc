// Package audit provides an append-only log of sensitive operations: blocked
// attempts against protected resources and allowed mutations. Events are
// written to PostgreSQL; a bounded background writer keeps the allow path
// non-blocking while denied and blocked events are persisted before the
// response leaves the process.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vistoriahq/vistoria/pkg/auth"
)

// Writer persists audit events.
type Writer interface {
	// Record appends one event. The write is attempted before Record
	// returns. Failures must never revert the decision the event records.
	Record(ctx context.Context, event *Event) error

	// Search retrieves events matching the filter, newest first by default.
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)

	// GetStats summarizes activity between startTime and endTime.
	GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error)
}

// NewEvent builds an event from the acting identity and request metadata.
// CreatedAt is stamped here so queued events keep their original time.
func NewEvent(actorID uuid.UUID, targetID string, actionType ActionType, blocked bool, meta *auth.RequestMeta) *Event {
	event := &Event{
		ActorID:    actorID,
		TargetID:   targetID,
		ActionType: actionType,
		Blocked:    blocked,
		CreatedAt:  time.Now().UTC(),
	}
	if meta != nil {
		event.IPAddress = meta.IPAddress
		event.UserAgent = meta.UserAgent
	}
	return event
}

// Recorder is the interface the decision and guard layers write through. The
// synchronous path is for events that must not be lost; the async path keeps
// allowed mutations off the request's critical path.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
	RecordAsync(event *Event)
}

// NoopWriter discards all events. Used in tests and when auditing is
// explicitly disabled.
type NoopWriter struct{}

func (NoopWriter) Record(ctx context.Context, event *Event) error { return nil }

func (NoopWriter) RecordAsync(event *Event) {}

func (NoopWriter) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	return nil, nil
}

func (NoopWriter) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	return &Stats{ByActionType: make(map[ActionType]int64)}, nil
}
