package graph

import (
	"context"
	"time"

	"github.com/wisebound/sentinel/pkg/models"
)

// Orphan describes a source node inside a consolidated window with no
// SUMMARIZES edge pointing to it — a defect diagnostic tooling must flag
// (spec.md §4.8: "Orphaned source nodes within a consolidated window are a
// defect; diagnostic tooling must flag them").
type Orphan struct {
	Node  models.NodeKey
	Level models.ConsolidationLevel
}

// Orphans scans every tier's trailing window in scope for source nodes
// that have no incoming SUMMARIZES edge, meaning a consolidation pass ran
// (or should have) but failed to link them.
func (c *Consolidator) Orphans(ctx context.Context, scope models.Scope, window time.Duration) ([]Orphan, error) {
	now := time.Now().UTC()
	start := now.Add(-window)

	var out []Orphan
	for _, lvl := range levels {
		sources, err := c.mem.repo.NodesInWindow(ctx, scope, lvl.SourceType, start, now)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			incoming, err := c.mem.repo.EdgesTo(ctx, src.NodeKey)
			if err != nil {
				return nil, err
			}
			if !hasSummarizesEdge(incoming) {
				out = append(out, Orphan{Node: src.NodeKey, Level: lvl.Level})
			}
		}
	}
	return out, nil
}
