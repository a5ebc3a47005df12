package graph

import (
	"context"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// Repository is the persistence contract Memory writes through, narrow
// enough for Store and an in-memory test fake to both satisfy it.
type Repository interface {
	PutNode(ctx context.Context, n *models.Node) error
	GetNode(ctx context.Context, key models.NodeKey) (*models.Node, error)
	NodesByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error)
	NodesInWindow(ctx context.Context, scope models.Scope, nodeType string, start, end time.Time) ([]*models.Node, error)
	SearchNodes(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error)
	DeleteNode(ctx context.Context, key models.NodeKey) error
	PutEdge(ctx context.Context, e *models.Edge) error
	RemoveEdge(ctx context.Context, id int64) error
	EdgesFrom(ctx context.Context, key models.NodeKey) ([]*models.Edge, error)
	EdgesTo(ctx context.Context, key models.NodeKey) ([]*models.Edge, error)
}

// Memory implements the three memory verbs of spec.md §4.8 over a
// Repository.
type Memory struct {
	repo Repository
	now  func() time.Time
}

// New builds a Memory over a Repository.
func New(repo Repository) *Memory {
	return &Memory{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Memorize inserts or updates a node; version increments on every write
// (spec.md §4.8).
func (m *Memory) Memorize(ctx context.Context, key models.NodeKey, nodeType string, attrs map[string]any, updatedBy string) (*models.Node, error) {
	if key.NodeID == "" || key.Scope == "" {
		return nil, apperrors.Validation("graph.memory", "node id and scope are required")
	}
	if nodeType == "" {
		return nil, apperrors.Validation("graph.memory", "node type is required")
	}
	n := &models.Node{
		NodeKey:    key,
		Type:       nodeType,
		Attributes: attrs,
		UpdatedBy:  updatedBy,
		UpdatedAt:  m.now(),
	}
	if err := m.repo.PutNode(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// RecallByKey fetches a single node by identity.
func (m *Memory) RecallByKey(ctx context.Context, key models.NodeKey) (*models.Node, error) {
	return m.repo.GetNode(ctx, key)
}

// RecallByType returns every node of a type within a scope.
func (m *Memory) RecallByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error) {
	return m.repo.NodesByType(ctx, scope, nodeType)
}

// RecallSearch performs a free-text search over node attributes within a
// scope (spec.md §4.8).
func (m *Memory) RecallSearch(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error) {
	if text == "" {
		return nil, apperrors.Validation("graph.memory", "search text is required")
	}
	return m.repo.SearchNodes(ctx, scope, text)
}

// Forget removes a node. It does not cascade: the node's edges must
// already be gone, or the repository rejects the delete (spec.md §4.8:
// "cascades do not happen automatically — callers supply explicit edge
// removals").
func (m *Memory) Forget(ctx context.Context, key models.NodeKey) error {
	return m.repo.DeleteNode(ctx, key)
}

// ForgetCascade removes every edge touching the node, then the node
// itself — the explicit two-step sequence Forget requires callers to
// perform when a clean removal (not an orphan-preserving one) is wanted.
func (m *Memory) ForgetCascade(ctx context.Context, key models.NodeKey) error {
	out, err := m.repo.EdgesFrom(ctx, key)
	if err != nil {
		return err
	}
	in, err := m.repo.EdgesTo(ctx, key)
	if err != nil {
		return err
	}
	for _, e := range append(out, in...) {
		if err := m.repo.RemoveEdge(ctx, e.ID); err != nil {
			return err
		}
	}
	return m.repo.DeleteNode(ctx, key)
}

// Connect adds an edge between two nodes in the same scope.
func (m *Memory) Connect(ctx context.Context, source, target models.NodeKey, relationship string, weight float64, attrs map[string]any) (*models.Edge, error) {
	e := &models.Edge{
		Source:       source,
		Target:       target,
		Relationship: relationship,
		Weight:       weight,
		Attributes:   attrs,
	}
	if err := m.repo.PutEdge(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
