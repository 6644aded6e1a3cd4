package queue

import (
	"errors"
	"fmt"
	"strings"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusRunningPass1 Status = "running_pass1"
	StatusRunningPass2 Status = "running_pass2"
	StatusCancelling   Status = "cancelling"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
	StatusFailed       Status = "failed"
)

// ErrInvalidTransition is returned when a job is asked to move to a status the
// lifecycle does not allow from its current one.
var ErrInvalidTransition = errors.New("invalid status transition")

var allStatuses = []Status{
	StatusQueued,
	StatusRunningPass1,
	StatusRunningPass2,
	StatusCancelling,
	StatusCompleted,
	StatusCancelled,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

type statusTransition struct {
	from Status
	to   Status
}

var allowedTransitions = map[statusTransition]struct{}{
	{from: StatusQueued, to: StatusRunningPass1}:       {},
	{from: StatusQueued, to: StatusCancelled}:          {},
	{from: StatusRunningPass1, to: StatusRunningPass2}: {},
	{from: StatusRunningPass1, to: StatusCancelling}:   {},
	{from: StatusRunningPass1, to: StatusFailed}:       {},
	{from: StatusRunningPass2, to: StatusCompleted}:    {},
	{from: StatusRunningPass2, to: StatusCancelling}:   {},
	{from: StatusRunningPass2, to: StatusFailed}:       {},
	{from: StatusCancelling, to: StatusCancelled}:      {},
	// Interrupt call failed; server state is unknown.
	{from: StatusCancelling, to: StatusFailed}: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether from → to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[statusTransition{from: from, to: to}]
	return ok
}

func checkTransition(from, to Status) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// IsRunning reports whether the job is executing one of its passes.
func (s Status) IsRunning() bool {
	return s == StatusRunningPass1 || s == StatusRunningPass2
}

// IsActive reports whether the job occupies the single active slot.
func (s Status) IsActive() bool {
	return s.IsRunning() || s == StatusCancelling
}

// Label returns a short human-facing form of the status.
func (s Status) Label() string {
	switch s {
	case StatusRunningPass1:
		return "pass 1"
	case StatusRunningPass2:
		return "pass 2"
	default:
		return string(s)
	}
}
