package models

import "time"

// ConfigScope is the scope of a proposed configuration change (spec.md §3).
type ConfigScope string

const (
	ScopeChangeLocal       ConfigScope = "LOCAL"
	ScopeChangeEnvironment ConfigScope = "ENVIRONMENT"
	ScopeChangeIdentity    ConfigScope = "IDENTITY"
	ScopeChangeCommunity   ConfigScope = "COMMUNITY"
)

// ChangeStatus is the lifecycle of a proposed ConfigurationChange (spec.md §3).
type ChangeStatus string

const (
	ChangeProposed   ChangeStatus = "proposed"
	ChangeApproved   ChangeStatus = "approved"
	ChangeApplied    ChangeStatus = "applied"
	ChangeRolledBack ChangeStatus = "rolled_back"
)

// ConfigurationChange is a proposed or applied modification emitted by the
// Adaptation Controller (spec.md §3, §4.9).
type ConfigurationChange struct {
	ID                string
	Scope             ConfigScope
	TargetPath        string
	OldValue          any
	NewValue          any
	EstimatedVariance float64
	Confidence        float64
	Status            ChangeStatus
	ProposedAt        time.Time
	AppliedAt         *time.Time
}

// AdaptationState is one of the Adaptation Controller's states (spec.md §4.9).
type AdaptationState string

const (
	AdaptationLearning   AdaptationState = "LEARNING"
	AdaptationProposing  AdaptationState = "PROPOSING"
	AdaptationAdapting   AdaptationState = "ADAPTING"
	AdaptationStabilizing AdaptationState = "STABILIZING"
	AdaptationReviewing  AdaptationState = "REVIEWING"
	AdaptationHalted     AdaptationState = "HALTED"
)
