package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"finisher/internal/seqbuf"
)

// LogEvent is one captured record. The well-known fields are lifted out of
// the attributes; everything else lands in Fields as text.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	Pass          string            `json:"pass,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// StreamHub keeps the most recent records for `finisher logs` and /api/logs.
type StreamHub struct {
	buf *seqbuf.Buffer[LogEvent]
}

func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &StreamHub{buf: seqbuf.New[LogEvent](capacity)}
}

func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	h.buf.Append(func(seq uint64) LogEvent {
		evt.Sequence = seq
		return evt
	})
}

// Fetch returns records newer than since. With wait set it blocks until one
// arrives or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.buf.Fetch(ctx, since, limit, wait)
}

func (h *StreamHub) Tail(limit int) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	return h.buf.Tail(limit)
}

// FirstSequence reports the oldest record still held.
func (h *StreamHub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	return h.buf.First()
}

// streamHandler copies every record into the hub before passing it on.
type streamHandler struct {
	next  slog.Handler
	hub   *StreamHub
	attrs []slog.Attr
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	h.hub.Publish(toLogEvent(record, h.attrs))
	return h.next.Handle(ctx, record)
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &streamHandler{
		next:  h.next.WithAttrs(attrs),
		hub:   h.hub,
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	return &streamHandler{next: h.next.WithGroup(name), hub: h.hub, attrs: h.attrs}
}

func toLogEvent(record slog.Record, bound []slog.Attr) LogEvent {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToLower(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	set := func(attr slog.Attr) bool {
		key := strings.TrimSpace(attr.Key)
		value := attrString(attr.Value)
		switch key {
		case "":
		case FieldJobID:
			evt.JobID = value
		case FieldPass:
			evt.Pass = value
		case FieldCorrelationID:
			evt.CorrelationID = value
		case FieldComponent:
			evt.Component = value
		default:
			if evt.Fields == nil {
				evt.Fields = make(map[string]string)
			}
			evt.Fields[key] = value
		}
		return true
	}
	// Record attrs are applied last so they win over bound ones.
	for _, attr := range bound {
		set(attr)
	}
	record.Attrs(set)
	return evt
}
