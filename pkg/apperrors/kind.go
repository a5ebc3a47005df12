// Package apperrors classifies runtime failures into the six kinds the
// pipeline propagates differently (spec.md §7): Validation, Transient,
// Integrity, Capacity, Authorization, and Invariant.
package apperrors

// Kind is one of the six error classes that drive propagation policy
// (spec.md §7).
type Kind string

const (
	// KindValidation: malformed input. Fail the unit of work, audit, no retry.
	KindValidation Kind = "validation"
	// KindTransient: external dependency hiccup. Bounded retry with jitter,
	// then convert to Defer on exhaustion.
	KindTransient Kind = "transient"
	// KindIntegrity: tamper or corruption evidence. Fatal; halt new
	// processing and surface via the emergency channel.
	KindIntegrity Kind = "integrity"
	// KindCapacity: resource exhaustion. Back off, suspend the scheduler
	// round, re-queue at the tail.
	KindCapacity Kind = "capacity"
	// KindAuthorization: missing or insufficient scope. Reject, audit,
	// reveal nothing beyond "forbidden".
	KindAuthorization Kind = "authorization"
	// KindInvariant: an illegal state transition or broken internal
	// invariant. Crash the pipeline task for that thought without
	// corrupting persisted state.
	KindInvariant Kind = "invariant"
)

// Policy describes how the scheduler and handlers should react to an error
// of a given Kind (spec.md §7).
type Policy struct {
	Retry       bool
	MaxAttempts int
	Fatal       bool
	BackPressure bool
	ConvertsTo  string // empty, or the action variant an exhausted retry converts to
}

// PolicyFor returns the propagation policy for k.
func PolicyFor(k Kind) Policy {
	switch k {
	case KindValidation:
		return Policy{}
	case KindTransient:
		return Policy{Retry: true, MaxAttempts: 3, ConvertsTo: "defer"}
	case KindIntegrity:
		return Policy{Fatal: true}
	case KindCapacity:
		return Policy{BackPressure: true}
	case KindAuthorization:
		return Policy{}
	case KindInvariant:
		return Policy{Fatal: true}
	default:
		return Policy{}
	}
}
