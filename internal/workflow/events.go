package workflow

import (
	"context"
	"time"

	"finisher/internal/ownership"
	"finisher/internal/queue"
	"finisher/internal/seqbuf"
	"finisher/internal/services/a1111"
)

// EventKind names a state change published to subscribers.
type EventKind string

const (
	EventJobAdded      EventKind = "job_added"
	EventJobStarted    EventKind = "job_started"
	EventJobPass       EventKind = "job_pass"
	EventJobProgress   EventKind = "job_progress"
	EventJobCompleted  EventKind = "job_completed"
	EventJobFailed     EventKind = "job_failed"
	EventJobCancelling EventKind = "job_cancelling"
	EventJobCancelled  EventKind = "job_cancelled"
	EventProgress      EventKind = "progress"
	EventQueuePaused   EventKind = "queue_paused"
	EventQueueResumed  EventKind = "queue_resumed"
	EventQueueCleared  EventKind = "queue_cleared"
)

// Event is an immutable notification of a controller change. Job and
// Snapshot are copies; Job never carries the image payload.
type Event struct {
	Sequence  uint64
	Timestamp time.Time
	Kind      EventKind
	Job       *queue.Job
	Snapshot  *a1111.ProgressSnapshot
	Decision  ownership.Decision
	State     queue.State
	Message   string
}

// EventHub keeps a bounded, sequenced buffer of events for subscribers that
// page through it with a cursor.
type EventHub struct {
	buf *seqbuf.Buffer[Event]
}

func NewEventHub(capacity int) *EventHub {
	return &EventHub{buf: seqbuf.New[Event](capacity)}
}

// Publish stamps evt with the next sequence number and the current time when
// it has none.
func (h *EventHub) Publish(evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	return h.buf.Append(func(seq uint64) Event {
		evt.Sequence = seq
		return evt
	})
}

// Fetch returns at most limit events newer than since plus the cursor for
// the next call. With wait set it blocks until an event is available or ctx
// ends.
func (h *EventHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	return h.buf.Fetch(ctx, since, limit, wait)
}
