package graph

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisebound/sentinel/pkg/models"
)

func TestConsolidateWritesSummaryAndEdgesBeforeSweepDeletes(t *testing.T) {
	repo := newFakeRepository()
	mem := New(repo)
	consolidator := NewConsolidator(mem)
	ctx := context.Background()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Hour)
	for i := 0; i < 3; i++ {
		key := models.NodeKey{NodeID: fmt.Sprintf("obs-%d", i), Scope: models.ScopeLocal}
		n := &models.Node{NodeKey: key, Type: "observation", Attributes: map[string]any{"i": i}, CreatedAt: old, UpdatedAt: old}
		require.NoError(t, repo.PutNode(ctx, n))
	}

	basic := levels[0]
	require.NoError(t, consolidator.Consolidate(ctx, basic, now))

	summaries, err := repo.NodesByType(ctx, models.ScopeLocal, "basic_summary")
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	incoming, err := repo.EdgesTo(ctx, models.NodeKey{NodeID: summaries[0].NodeID, Scope: models.ScopeLocal})
	require.NoError(t, err)
	assert.Empty(t, incoming) // summary has outgoing edges, not incoming

	outgoing, err := repo.EdgesFrom(ctx, summaries[0].NodeKey)
	require.NoError(t, err)
	assert.Len(t, outgoing, 3)

	sources, err := repo.NodesByType(ctx, models.ScopeLocal, "observation")
	require.NoError(t, err)
	assert.Len(t, sources, 3, "sources must still exist before Sweep runs")

	laterThanRetention := now.Add(25 * time.Hour)
	require.NoError(t, consolidator.Sweep(ctx, basic, laterThanRetention))

	sources, err = repo.NodesByType(ctx, models.ScopeLocal, "observation")
	require.NoError(t, err)
	assert.Empty(t, sources, "sources past retention age with a summary edge are swept")
}

func TestSweepLeavesUnconsolidatedSourcesAlone(t *testing.T) {
	repo := newFakeRepository()
	mem := New(repo)
	consolidator := NewConsolidator(mem)
	ctx := context.Background()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	old := now.Add(-48 * time.Hour)
	key := models.NodeKey{NodeID: "unlinked-obs", Scope: models.ScopeLocal}
	require.NoError(t, repo.PutNode(ctx, &models.Node{NodeKey: key, Type: "observation", CreatedAt: old, UpdatedAt: old}))

	require.NoError(t, consolidator.Sweep(ctx, levels[0], now))

	remaining, err := repo.GetNode(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, remaining, "never-summarized sources are never deleted")
}

func TestOrphansFlagsSourceWithoutSummarizesEdge(t *testing.T) {
	repo := newFakeRepository()
	mem := New(repo)
	consolidator := NewConsolidator(mem)
	ctx := context.Background()

	now := time.Now().UTC()
	key := models.NodeKey{NodeID: "lonely-obs", Scope: models.ScopeLocal}
	require.NoError(t, repo.PutNode(ctx, &models.Node{NodeKey: key, Type: "observation", CreatedAt: now.Add(-time.Hour), UpdatedAt: now}))

	orphans, err := consolidator.Orphans(ctx, models.ScopeLocal, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, key, orphans[0].Node)
	assert.Equal(t, models.ConsolidationBasic, orphans[0].Level)
}

func TestOrphansEmptyWhenSummarized(t *testing.T) {
	repo := newFakeRepository()
	mem := New(repo)
	consolidator := NewConsolidator(mem)
	ctx := context.Background()

	now := time.Now().UTC()
	key := models.NodeKey{NodeID: "covered-obs", Scope: models.ScopeLocal}
	require.NoError(t, repo.PutNode(ctx, &models.Node{NodeKey: key, Type: "observation", CreatedAt: now.Add(-time.Hour), UpdatedAt: now}))
	require.NoError(t, consolidator.Consolidate(ctx, levels[0], now))

	orphans, err := consolidator.Orphans(ctx, models.ScopeLocal, 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}
