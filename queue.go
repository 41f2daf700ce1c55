package ledgerq

import (
	"context"
	"time"
)

// Queue is the durable message source the worker drains. A message
// peeked but not yet completed, rescheduled, or dead-lettered remains
// owned by the queue and is redelivered after its visibility lease
// expires, so a crash mid-processing never loses it.
type Queue interface {
	// Peek returns the next available message, or ErrNoMessages when
	// the queue is empty. It does not block waiting for messages.
	Peek(ctx context.Context) (*EventMessage, error)
	// Complete acknowledges the message; it will not be redelivered.
	Complete(ctx context.Context, msg *EventMessage) error
	// Abandon makes the message immediately available again with its
	// attempt count incremented.
	Abandon(ctx context.Context, msg *EventMessage) error
	// Reschedule makes the message available no earlier than notBefore
	// with its attempt count incremented. The schedule is durable: it
	// survives process restarts.
	Reschedule(ctx context.Context, msg *EventMessage, notBefore time.Time) error
	// MoveToDeadLetter removes the message from live delivery into a
	// side channel for manual inspection.
	MoveToDeadLetter(ctx context.Context, msg *EventMessage) error
}
