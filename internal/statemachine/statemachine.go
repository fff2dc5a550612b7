// Package statemachine implements C8, the authoritative task status
// transition table used by C6 and C9. No teacher file models a status
// table directly; the closest precedent is the orchestrator's TaskStatus
// enum (Pending/Running/Completed/Failed/Skipped), generalized here to the
// seven-state table spec §4.7 requires.
package statemachine

import (
	"github.com/Ranish-Garg/econos-master-agent/internal/task"
)

var transitions = map[task.Status]map[task.Status]bool{
	task.StatusPending: {
		task.StatusCreated: true,
		task.StatusFailed:  true,
	},
	task.StatusCreated: {
		task.StatusAuthorized: true,
		task.StatusRefunded:   true,
		task.StatusFailed:     true,
	},
	task.StatusAuthorized: {
		task.StatusRunning:  true,
		task.StatusRefunded: true,
		task.StatusFailed:   true,
	},
	task.StatusRunning: {
		task.StatusCompleted: true,
		task.StatusRefunded:  true,
		task.StatusFailed:    true,
	},
	task.StatusCompleted: {},
	task.StatusRefunded:  {},
	task.StatusFailed:    {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to task.Status) bool {
	successors, ok := transitions[from]
	if !ok {
		return false
	}
	return successors[to]
}

// Validate returns an *task.Error if from -> to is illegal, nil otherwise.
func Validate(from, to task.Status) error {
	if !CanTransition(from, to) {
		return task.ErrInvalidTransition(from, to)
	}
	return nil
}

// IsTerminal reports whether s has no legal successors.
func IsTerminal(s task.Status) bool {
	return s.IsTerminal()
}

// CanRefund reports whether a task in status s is eligible for RefundAndSlash.
func CanRefund(s task.Status) bool {
	switch s {
	case task.StatusCreated, task.StatusAuthorized, task.StatusRunning:
		return true
	default:
		return false
	}
}

// CanComplete reports whether a task in status s may transition to Completed.
// Per spec §4.7 this is only legal from Running.
func CanComplete(s task.Status) bool {
	return s == task.StatusRunning
}

// IsActive reports whether s is a non-terminal status.
func IsActive(s task.Status) bool {
	return !IsTerminal(s)
}
