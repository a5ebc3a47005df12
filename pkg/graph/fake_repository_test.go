package graph

import (
	"context"
	"time"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
)

// fakeRepository is an in-memory Repository used by this package's own
// tests, mirroring the in-memory fakes used for the LLM provider and
// transport adapter contracts.
type fakeRepository struct {
	nodes   map[models.NodeKey]*models.Node
	edges   map[int64]*models.Edge
	nextID  int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		nodes: make(map[models.NodeKey]*models.Node),
		edges: make(map[int64]*models.Edge),
	}
}

func (f *fakeRepository) PutNode(_ context.Context, n *models.Node) error {
	existing, ok := f.nodes[n.NodeKey]
	if ok {
		n.Version = existing.Version + 1
		n.CreatedAt = existing.CreatedAt
	} else {
		n.Version = 1
		if n.CreatedAt.IsZero() {
			n.CreatedAt = n.UpdatedAt
		}
	}
	cp := *n
	f.nodes[n.NodeKey] = &cp
	return nil
}

func (f *fakeRepository) GetNode(_ context.Context, key models.NodeKey) (*models.Node, error) {
	n, ok := f.nodes[key]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (f *fakeRepository) NodesByType(_ context.Context, scope models.Scope, nodeType string) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range f.nodes {
		if n.Scope == scope && n.Type == nodeType {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepository) NodesInWindow(_ context.Context, scope models.Scope, nodeType string, start, end time.Time) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range f.nodes {
		if n.Scope != scope || n.Type != nodeType {
			continue
		}
		if n.CreatedAt.Before(start) || !n.CreatedAt.Before(end) {
			continue
		}
		cp := *n
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeRepository) SearchNodes(_ context.Context, scope models.Scope, text string) ([]*models.Node, error) {
	var out []*models.Node
	for _, n := range f.nodes {
		if n.Scope != scope {
			continue
		}
		for _, v := range n.Attributes {
			if s, ok := v.(string); ok && contains(s, text) {
				cp := *n
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return len(needle) == 0
}

func (f *fakeRepository) DeleteNode(_ context.Context, key models.NodeKey) error {
	if _, ok := f.nodes[key]; !ok {
		return apperrors.Validation("graph.memory", "node not found")
	}
	for _, e := range f.edges {
		if e.Source == key || e.Target == key {
			return apperrors.Invariant("graph.memory", "edges still reference node")
		}
	}
	delete(f.nodes, key)
	return nil
}

func (f *fakeRepository) PutEdge(_ context.Context, e *models.Edge) error {
	if e.Source.Scope != e.Target.Scope {
		return apperrors.Validation("graph.memory", "edge endpoints must share a scope")
	}
	f.nextID++
	e.ID = f.nextID
	cp := *e
	f.edges[e.ID] = &cp
	return nil
}

func (f *fakeRepository) RemoveEdge(_ context.Context, id int64) error {
	delete(f.edges, id)
	return nil
}

func (f *fakeRepository) EdgesFrom(_ context.Context, key models.NodeKey) ([]*models.Edge, error) {
	var out []*models.Edge
	for _, e := range f.edges {
		if e.Source == key {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeRepository) EdgesTo(_ context.Context, key models.NodeKey) ([]*models.Edge, error) {
	var out []*models.Edge
	for _, e := range f.edges {
		if e.Target == key {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
