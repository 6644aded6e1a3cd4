package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrTransport       = errors.New("transport error")
	ErrServer          = errors.New("server error")
	ErrInterruptFailed = errors.New("interrupt failed")
	ErrQueueFull       = errors.New("queue full")
	ErrNotFound        = errors.New("not found")
)

// Error kinds recorded on job summaries and carried across IPC.
const (
	KindValidation      = "validation"
	KindConfiguration   = "configuration"
	KindTransport       = "transport"
	KindServer          = "server"
	KindInterruptFailed = "interrupt_failed"
	KindQueueFull       = "queue_full"
	KindNotFound        = "not_found"
	KindCancelled       = "cancelled"
	KindInterrupted     = "interrupted"
	KindUnknown         = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrServer
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to the stable kind string used in job summaries.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInterruptFailed):
		return KindInterruptFailed
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrServer):
		return KindServer
	case errors.Is(err, ErrQueueFull):
		return KindQueueFull
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// MarkerForKind is the inverse of Kind for the sentinel kinds.
func MarkerForKind(kind string) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindConfiguration:
		return ErrConfiguration
	case KindTransport:
		return ErrTransport
	case KindServer:
		return ErrServer
	case KindInterruptFailed:
		return ErrInterruptFailed
	case KindQueueFull:
		return ErrQueueFull
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
