package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wisebound/sentinel/pkg/models"
)

// levelConfig describes one consolidation tier (spec.md §4.8 table).
type levelConfig struct {
	Level        models.ConsolidationLevel
	Cadence      time.Duration
	Window       time.Duration
	SourceType   string
	SummaryType  string
	RetentionAge time.Duration // sources past this age, once summarized, are eligible for deletion
}

var levels = []levelConfig{
	{
		Level:        models.ConsolidationBasic,
		Cadence:      6 * time.Hour,
		Window:       6 * time.Hour,
		SourceType:   "observation",
		SummaryType:  "basic_summary",
		RetentionAge: 24 * time.Hour,
	},
	{
		Level:        models.ConsolidationExtensive,
		Cadence:      24 * time.Hour,
		Window:       24 * time.Hour,
		SourceType:   "basic_summary",
		SummaryType:  "extensive_summary",
		RetentionAge: 7 * 24 * time.Hour,
	},
	{
		Level:        models.ConsolidationProfound,
		Cadence:      30 * 24 * time.Hour,
		Window:       30 * 24 * time.Hour,
		SourceType:   "extensive_summary",
		SummaryType:  "profound_summary",
		RetentionAge: 90 * 24 * time.Hour,
	},
}

var allScopes = []models.Scope{
	models.ScopeLocal, models.ScopeEnvironment, models.ScopeIdentity, models.ScopeCommunity,
}

// Consolidator runs the basic/extensive/profound cadences as independent
// cooperative timers (spec.md §4.8, §5: "Consolidation and adaptation loops
// run as independent cooperative tasks on timers"). Grounded on tarsy's
// pkg/cleanup/service.go Start/Stop/run ticker pattern, generalized from a
// single interval to the three-tier cadence table above.
type Consolidator struct {
	mem *Memory

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsolidator builds a Consolidator over a Memory.
func NewConsolidator(mem *Memory) *Consolidator {
	return &Consolidator{mem: mem}
}

// Start launches one background ticker goroutine per cadence tier.
func (c *Consolidator) Start(ctx context.Context) {
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{}, len(levels))

	for _, lvl := range levels {
		go c.run(ctx, lvl)
	}
	slog.Info("graph consolidator started", "tiers", len(levels))
}

// Stop signals every tier loop to exit and waits for them to finish.
func (c *Consolidator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	for range levels {
		<-c.done
	}
	slog.Info("graph consolidator stopped")
}

func (c *Consolidator) run(ctx context.Context, lvl levelConfig) {
	defer func() { c.done <- struct{}{} }()

	ticker := time.NewTicker(lvl.Cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runOnce(ctx, lvl, time.Now().UTC())
		}
	}
}

func (c *Consolidator) runOnce(ctx context.Context, lvl levelConfig, now time.Time) {
	if err := c.Consolidate(ctx, lvl, now); err != nil {
		slog.Error("consolidation pass failed", "level", lvl.Level, "error", err)
		return
	}
	if err := c.Sweep(ctx, lvl, now); err != nil {
		slog.Error("consolidation sweep failed", "level", lvl.Level, "error", err)
	}
}

// Consolidate runs one consolidation pass for a tier across every scope
// that has sources in the trailing window: it writes one summary node per
// scope and a SUMMARIZES edge to every source, so every source is
// reachable from its summary before Sweep ever considers deleting it
// (spec.md §4.8 invariant).
func (c *Consolidator) Consolidate(ctx context.Context, lvl levelConfig, now time.Time) error {
	start := now.Add(-lvl.Window)
	for _, scope := range allScopes {
		sources, err := c.mem.repo.NodesInWindow(ctx, scope, lvl.SourceType, start, now)
		if err != nil {
			return err
		}
		if len(sources) == 0 {
			continue
		}
		summaryKey := models.NodeKey{
			NodeID: fmt.Sprintf("%s-%s-%s", lvl.Level, scope, start.Format("20060102T150405Z")),
			Scope:  scope,
		}
		summary := &models.Node{
			NodeKey:          summaryKey,
			Type:             lvl.SummaryType,
			Attributes:       map[string]any{"source_count": len(sources)},
			UpdatedBy:        "graph.consolidator",
			UpdatedAt:        now,
			PeriodStart:      &start,
			PeriodEnd:        &now,
			ConsolidationLvl: lvl.Level,
		}
		if err := c.mem.repo.PutNode(ctx, summary); err != nil {
			return err
		}
		for _, src := range sources {
			if _, err := c.mem.Connect(ctx, summaryKey, src.NodeKey, models.SummarizesRelationship, 1.0, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Sweep deletes sources of this tier that are older than RetentionAge and
// already reachable from a summary via a SUMMARIZES edge (spec.md §4.8:
// "Raw time-series nodes older than 24 hours whose window has a basic
// summary are eligible for deletion; basic summaries older than 7 days
// whose window has an extensive summary are eligible; and so on").
func (c *Consolidator) Sweep(ctx context.Context, lvl levelConfig, now time.Time) error {
	cutoff := now.Add(-lvl.RetentionAge)
	for _, scope := range allScopes {
		candidates, err := c.mem.repo.NodesInWindow(ctx, scope, lvl.SourceType, time.Time{}, cutoff)
		if err != nil {
			return err
		}
		for _, node := range candidates {
			incoming, err := c.mem.repo.EdgesTo(ctx, node.NodeKey)
			if err != nil {
				return err
			}
			if !hasSummarizesEdge(incoming) {
				continue // not yet consolidated; leave it for a future pass
			}
			if err := c.mem.ForgetCascade(ctx, node.NodeKey); err != nil {
				return err
			}
		}
	}
	return nil
}

func hasSummarizesEdge(edges []*models.Edge) bool {
	for _, e := range edges {
		if e.Relationship == models.SummarizesRelationship {
			return true
		}
	}
	return false
}
