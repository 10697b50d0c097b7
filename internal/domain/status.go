package domain

import (
	"fmt"
	"strings"
)

// ProgressStatus is the lifecycle state of a progress record.
type ProgressStatus string

// ProgressStatus values. The set is closed; Valid rejects anything else.
const (
	StatusNotStarted ProgressStatus = "NOT_STARTED"
	StatusInProgress ProgressStatus = "IN_PROGRESS"
	StatusCompleted  ProgressStatus = "COMPLETED"
	StatusPaused     ProgressStatus = "PAUSED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []ProgressStatus{
	StatusNotStarted,
	StatusInProgress,
	StatusCompleted,
	StatusPaused,
}

// Valid checks if the status is a recognized value.
func (s ProgressStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusPaused:
		return true
	default:
		return false
	}
}

// String returns the wire name.
func (s ProgressStatus) String() string {
	return string(s)
}

// DisplayName returns the human-readable label.
func (s ProgressStatus) DisplayName() string {
	switch s {
	case StatusNotStarted:
		return "Not Started"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusPaused:
		return "Paused"
	default:
		return string(s)
	}
}

// IsTerminal reports whether no transition leaves this status.
func (s ProgressStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Staying in the same status is always allowed.
func (s ProgressStatus) CanTransitionTo(next ProgressStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusNotStarted:
		return next == StatusInProgress || next == StatusCompleted
	case StatusInProgress:
		return next == StatusPaused || next == StatusCompleted
	case StatusPaused:
		return next == StatusInProgress || next == StatusCompleted
	case StatusCompleted:
		return false
	default:
		return false
	}
}

// ParseProgressStatus accepts either the wire name ("IN_PROGRESS") or the
// display name ("In Progress"), case-insensitively.
func ParseProgressStatus(v string) (ProgressStatus, error) {
	v = strings.TrimSpace(v)
	for _, s := range AllStatuses {
		if strings.EqualFold(v, string(s)) || strings.EqualFold(v, s.DisplayName()) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown progress status: %q", v)
}
