package logging

import (
	"context"
	"log/slog"

	"finisher/internal/services"
)

// Well-known attribute keys.
const (
	FieldComponent = "component"
	FieldJobID     = "job_id"
	// FieldPass is pass1 or pass2 while a job is on the generation server.
	FieldPass = "pass"
	// FieldCorrelationID carries the HTTP request id or the IPC call id.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a record for filtering, e.g. job_completed or poll_failed.
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldImpact    = "impact"
)

// contextKeys pairs each attribute with the services accessor that fills it.
var contextKeys = []struct {
	field  string
	lookup func(context.Context) (string, bool)
}{
	{FieldJobID, services.JobIDFromContext},
	{FieldPass, services.PassFromContext},
	{FieldCorrelationID, services.RequestIDFromContext},
}

// ContextFields returns the job, pass and correlation attributes carried by ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var fields []slog.Attr
	for _, key := range contextKeys {
		if value, ok := key.lookup(ctx); ok {
			fields = append(fields, slog.String(key.field, value))
		}
	}
	return fields
}

func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	if fields := ContextFields(ctx); len(fields) > 0 {
		return logger.With(attrsToArgs(fields)...)
	}
	return logger
}
