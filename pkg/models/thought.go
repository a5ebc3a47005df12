package models

import "time"

// MaxThoughtDepth bounds the parent-chain depth of a Thought (spec.md §3
// invariant: "depth monotonically increases ... and is capped"). Sourced
// from ciris_engine/schemas/runtime/models.py (SPEC_FULL.md §3).
const MaxThoughtDepth = 7

// ThoughtStatus is the lifecycle state of a Thought (spec.md §4.1).
type ThoughtStatus string

const (
	ThoughtPending    ThoughtStatus = "pending"
	ThoughtProcessing ThoughtStatus = "processing"
	ThoughtCompleted  ThoughtStatus = "completed"
	ThoughtFailed     ThoughtStatus = "failed"
	ThoughtDeferred   ThoughtStatus = "deferred"
)

func (s ThoughtStatus) Terminal() bool {
	switch s {
	case ThoughtCompleted, ThoughtFailed, ThoughtDeferred:
		return true
	default:
		return false
	}
}

// ThoughtType tags the origin of a reasoning step (spec.md §3).
type ThoughtType string

const (
	ThoughtSeed     ThoughtType = "seed"
	ThoughtPonder   ThoughtType = "ponder"
	ThoughtFollowUp ThoughtType = "follow_up"
)

// thoughtTransitions enumerates the legal thought status machine edges,
// including the one special Ponder re-queue edge (spec.md §4.1:
// "processing → pending permitted only if the ponder counter is below the
// cap" — the cap check itself lives in the selector, not this table).
var thoughtTransitions = map[ThoughtStatus]map[ThoughtStatus]bool{
	ThoughtPending:    {ThoughtProcessing: true},
	ThoughtProcessing: {ThoughtCompleted: true, ThoughtFailed: true, ThoughtDeferred: true, ThoughtPending: true},
}

// ValidThoughtTransition reports whether moving a thought from `from` to
// `to` is a legal edge in the thought status machine.
func ValidThoughtTransition(from, to ThoughtStatus) bool {
	return thoughtTransitions[from][to]
}

// PonderNote is a key question recorded during a Ponder re-queue
// (spec.md §3, §4.6).
type PonderNote struct {
	Question string
	AskedAt  time.Time
}

// Thought is a reasoning step derived from a Task (spec.md §3).
type Thought struct {
	ID           string
	TaskID       string
	ParentID     *string
	Type         ThoughtType
	Status       ThoughtStatus
	Round        int
	Depth        int
	Content      string
	Context      map[string]any
	PonderNotes  []PonderNote
	PonderCount  int // normalized name; see SPEC_FULL.md §9 open-question resolution
	FinalAction  *ActionRecord
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActionRecord is the optional final action recorded on a completed Thought.
type ActionRecord struct {
	Variant   ActionVariant
	Rationale string
	RecordedAt time.Time
}
