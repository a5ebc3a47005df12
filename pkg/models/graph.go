package models

import "time"

// Scope is the namespace for graph nodes and edges (spec.md §3, GLOSSARY).
// Edges require both endpoints in the same scope.
type Scope string

const (
	ScopeLocal       Scope = "LOCAL"
	ScopeEnvironment Scope = "ENVIRONMENT"
	ScopeIdentity    Scope = "IDENTITY"
	ScopeCommunity   Scope = "COMMUNITY"
)

// ConsolidationLevel is the tier in the time-series summary hierarchy
// (spec.md §3, §4.8, GLOSSARY).
type ConsolidationLevel string

const (
	ConsolidationBasic     ConsolidationLevel = "basic"
	ConsolidationExtensive ConsolidationLevel = "extensive"
	ConsolidationProfound  ConsolidationLevel = "profound"
)

// NodeKey is the content-addressed primary key of a graph node
// (spec.md §3: "(node_id, scope) primary key").
type NodeKey struct {
	NodeID string
	Scope  Scope
}

// Node is a graph memory node (spec.md §3). Summary nodes (Type ending in
// "_summary") additionally populate PeriodStart/PeriodEnd/ConsolidationLvl.
type Node struct {
	NodeKey
	Type              string
	Attributes        map[string]any
	Version           int
	UpdatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	ConsolidationLvl  ConsolidationLevel
}

// IsSummary reports whether this node is a consolidation summary node
// (spec.md §3: "Summary nodes (type ending in _summary)").
func (n *Node) IsSummary() bool {
	return len(n.Type) > len("_summary") && n.Type[len(n.Type)-len("_summary"):] == "_summary"
}

// Edge is a graph memory edge (spec.md §3). Both endpoints must share a
// scope.
type Edge struct {
	ID           int64
	Source       NodeKey
	Target       NodeKey
	Relationship string
	Weight       float64
	Attributes   map[string]any
}

// SummarizesRelationship is the edge label connecting a summary node to
// each source node in its consolidated window (spec.md §3, §4.8).
const SummarizesRelationship = "SUMMARIZES"
