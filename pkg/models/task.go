// Package models holds the typed, named records that flow through the
// pipeline (spec.md §3). Dynamic dictionaries from the original
// implementation are replaced with named structs and discriminated unions
// throughout this package (spec.md §9).
package models

import "time"

// TaskStatus is the lifecycle state of a Task (spec.md §4.1).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskDeferred  TaskStatus = "deferred"
)

// Terminal reports whether the status is one of the task machine's terminal
// states (spec.md §3: "completed/failed/deferred are terminal").
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskDeferred:
		return true
	default:
		return false
	}
}

// SignatureTriple is the optional signer/signature/signed-at triple attached
// to a Task (spec.md §3).
type SignatureTriple struct {
	SignerID string
	Sig      []byte
	SignedAt time.Time
}

// TaskOutcome records the terminal result of a Task, if any.
type TaskOutcome struct {
	Summary string
	Detail  map[string]any
}

// Task is a unit of work attributable to a channel (spec.md §3).
type Task struct {
	ID          string
	ChannelID   string
	Description string
	Status      TaskStatus
	Priority    int // higher first
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ParentID    *string
	Context     TaskContext
	Outcome     *TaskOutcome
	Signature   *SignatureTriple
}

// TaskContext is the structured context carried by a Task. CorrelationID is
// used by Handler Dispatch to disambiguate collaborator calls that are not
// natively idempotent (spec.md §4.6, SPEC_FULL.md §3).
type TaskContext struct {
	CorrelationID string
	Extra         map[string]any
}

// IllegalTransition is returned when a caller attempts to move a Task or
// Thought out of a terminal state, or along an edge the status machine does
// not permit (spec.md §4.1).
type IllegalTransition struct {
	Entity string // "task" or "thought"
	From   string
	To     string
}

func (e *IllegalTransition) Error() string {
	return e.Entity + ": illegal transition from " + e.From + " to " + e.To
}

// taskTransitions enumerates the legal task status machine edges
// (spec.md §4.1: "pending → active → {completed | failed | deferred}").
var taskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending: {TaskActive: true},
	TaskActive:  {TaskCompleted: true, TaskFailed: true, TaskDeferred: true},
}

// ValidTaskTransition reports whether moving a task from `from` to `to` is a
// legal edge in the task status machine.
func ValidTaskTransition(from, to TaskStatus) bool {
	return taskTransitions[from][to]
}
