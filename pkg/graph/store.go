// Package graph implements Graph Memory & Consolidation (spec.md §4.8): a
// scoped multigraph of nodes and edges, stored as two flat tables rather
// than linked objects (spec.md §9), plus the basic/extensive/profound
// consolidation cadences. Grounded on
// Heikkila-Pty-Ltd-cortex/internal/graph/graph.go and dag.go for the
// node/edge-table representation and cycle-avoidance discipline, generalized
// from cortex's single-scope task DAG to the scoped multigraph of spec.md §3.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisebound/sentinel/pkg/apperrors"
	"github.com/wisebound/sentinel/pkg/models"
	"github.com/wisebound/sentinel/pkg/store/query"
)

// Config holds the Graph Memory database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MigrationsPath string
}

func (c Config) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Store is a pgx-backed repository over graph_nodes and graph_edges.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a pool and applies pending migrations.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("graph: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph: ping: %w", err)
	}
	path := cfg.MigrationsPath
	if path == "" {
		path = "pkg/graph/migrations"
	}
	m, err := migrate.New("file://"+path, cfg.dsn())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("graph: create migrate instance: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		pool.Close()
		return nil, fmt.Errorf("graph: apply migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreFromPool wraps an already-open pool, for tests.
func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// PutNode inserts or overwrites a node, incrementing version on conflict
// (spec.md §4.8: "Memorize: insert or update a node; version increments").
func (s *Store) PutNode(ctx context.Context, n *models.Node) error {
	attrs, err := json.Marshal(n.Attributes)
	if err != nil {
		return apperrors.Validation("graph.store", "marshal attributes: "+err.Error())
	}
	existing, err := s.GetNode(ctx, n.NodeKey)
	if err != nil {
		return err
	}
	version := 1
	if existing != nil {
		version = existing.Version + 1
	}
	n.Version = version
	if n.CreatedAt.IsZero() {
		if existing != nil {
			n.CreatedAt = existing.CreatedAt
		} else {
			n.CreatedAt = n.UpdatedAt
		}
	}

	sqlStr, args := query.InsertInto("graph_nodes").
		Set("node_id", n.NodeID).
		Set("scope", string(n.Scope)).
		Set("node_type", n.Type).
		Set("attributes", attrs).
		Set("version", n.Version).
		Set("updated_by", n.UpdatedBy).
		Set("created_at", n.CreatedAt).
		Set("updated_at", n.UpdatedAt).
		Set("period_start", n.PeriodStart).
		Set("period_end", n.PeriodEnd).
		Set("consolidation_lvl", string(n.ConsolidationLvl)).
		OnConflict("node_id, scope",
			"node_type", "attributes", "version", "updated_by", "updated_at",
			"period_start", "period_end", "consolidation_lvl").
		Build()
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return apperrors.Transient("graph.store", "put node", err)
	}
	return nil
}

// GetNode returns a node by key, or nil if it does not exist.
func (s *Store) GetNode(ctx context.Context, key models.NodeKey) (*models.Node, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT node_id, scope, node_type, attributes, version, updated_by,
		       created_at, updated_at, period_start, period_end, consolidation_lvl
		FROM graph_nodes WHERE node_id = $1 AND scope = $2`, key.NodeID, string(key.Scope))
	n, err := scanNode(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return n, err
}

// NodesByType returns every node of the given type within a scope.
func (s *Store) NodesByType(ctx context.Context, scope models.Scope, nodeType string) ([]*models.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, scope, node_type, attributes, version, updated_by,
		       created_at, updated_at, period_start, period_end, consolidation_lvl
		FROM graph_nodes WHERE scope = $1 AND node_type = $2 ORDER BY created_at ASC`,
		string(scope), nodeType)
	if err != nil {
		return nil, apperrors.Transient("graph.store", "nodes by type", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// NodesInWindow returns nodes in scope whose created_at falls within
// [start, end), used to gather consolidation source sets.
func (s *Store) NodesInWindow(ctx context.Context, scope models.Scope, nodeType string, start, end time.Time) ([]*models.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, scope, node_type, attributes, version, updated_by,
		       created_at, updated_at, period_start, period_end, consolidation_lvl
		FROM graph_nodes
		WHERE scope = $1 AND node_type = $2 AND created_at >= $3 AND created_at < $4
		ORDER BY created_at ASC`, string(scope), nodeType, start, end)
	if err != nil {
		return nil, apperrors.Transient("graph.store", "nodes in window", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// SearchNodes performs a free-text search over node attribute values
// (spec.md §4.8: "Recall: query by node id, type, scope, or free-text
// search over attributes").
func (s *Store) SearchNodes(ctx context.Context, scope models.Scope, text string) ([]*models.Node, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT node_id, scope, node_type, attributes, version, updated_by,
		       created_at, updated_at, period_start, period_end, consolidation_lvl
		FROM graph_nodes WHERE scope = $1 AND attributes::text ILIKE $2
		ORDER BY updated_at DESC`, string(scope), "%"+text+"%")
	if err != nil {
		return nil, apperrors.Transient("graph.store", "search nodes", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// DeleteNode removes a node. The foreign keys on graph_edges have no
// cascade action, so this fails if any edge still references the node —
// Forget never auto-removes edges (spec.md §4.8: "cascades do not happen
// automatically; callers supply explicit edge removals").
func (s *Store) DeleteNode(ctx context.Context, key models.NodeKey) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM graph_nodes WHERE node_id = $1 AND scope = $2`,
		key.NodeID, string(key.Scope))
	if err != nil {
		return apperrors.Wrap(apperrors.KindInvariant, "graph.store", "delete node: edges still reference it", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Validation("graph.store", "node not found")
	}
	return nil
}

// PutEdge inserts an edge. Both endpoints must already exist and share a
// scope (enforced by the foreign keys and the scope check below).
func (s *Store) PutEdge(ctx context.Context, e *models.Edge) error {
	if e.Source.Scope != e.Target.Scope {
		return apperrors.Validation("graph.store", "edge endpoints must share a scope")
	}
	attrs, err := json.Marshal(e.Attributes)
	if err != nil {
		return apperrors.Validation("graph.store", "marshal edge attributes: "+err.Error())
	}
	sqlStr, args := query.InsertInto("graph_edges").
		Set("src_node_id", e.Source.NodeID).
		Set("src_scope", string(e.Source.Scope)).
		Set("dst_node_id", e.Target.NodeID).
		Set("dst_scope", string(e.Target.Scope)).
		Set("relationship", e.Relationship).
		Set("weight", e.Weight).
		Set("attributes", attrs).
		Build()
	row := s.pool.QueryRow(ctx, sqlStr+" RETURNING id", args...)
	if err := row.Scan(&e.ID); err != nil {
		return apperrors.Transient("graph.store", "put edge", err)
	}
	return nil
}

// RemoveEdge deletes a single edge by id.
func (s *Store) RemoveEdge(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM graph_edges WHERE id = $1`, id); err != nil {
		return apperrors.Transient("graph.store", "remove edge", err)
	}
	return nil
}

// EdgesFrom returns every edge whose source is the given node.
func (s *Store) EdgesFrom(ctx context.Context, key models.NodeKey) ([]*models.Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, src_node_id, src_scope, dst_node_id, dst_scope, relationship, weight, attributes
		FROM graph_edges WHERE src_node_id = $1 AND src_scope = $2`, key.NodeID, string(key.Scope))
	if err != nil {
		return nil, apperrors.Transient("graph.store", "edges from", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgesTo returns every edge whose target is the given node.
func (s *Store) EdgesTo(ctx context.Context, key models.NodeKey) ([]*models.Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, src_node_id, src_scope, dst_node_id, dst_scope, relationship, weight, attributes
		FROM graph_edges WHERE dst_node_id = $1 AND dst_scope = $2`, key.NodeID, string(key.Scope))
	if err != nil {
		return nil, apperrors.Transient("graph.store", "edges to", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanNodes(rows pgx.Rows) ([]*models.Node, error) {
	var out []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*models.Node, error) {
	var n models.Node
	var scope, lvl string
	var attrs []byte
	err := row.Scan(&n.NodeID, &scope, &n.Type, &attrs, &n.Version, &n.UpdatedBy,
		&n.CreatedAt, &n.UpdatedAt, &n.PeriodStart, &n.PeriodEnd, &lvl)
	if err != nil {
		return nil, err
	}
	n.Scope = models.Scope(scope)
	n.ConsolidationLvl = models.ConsolidationLevel(lvl)
	if len(attrs) > 0 {
		if uerr := json.Unmarshal(attrs, &n.Attributes); uerr != nil {
			return nil, apperrors.Transient("graph.store", "unmarshal attributes", uerr)
		}
	}
	return &n, nil
}

func scanEdges(rows pgx.Rows) ([]*models.Edge, error) {
	var out []*models.Edge
	for rows.Next() {
		var e models.Edge
		var srcScope, dstScope string
		var attrs []byte
		if err := rows.Scan(&e.ID, &e.Source.NodeID, &srcScope, &e.Target.NodeID, &dstScope,
			&e.Relationship, &e.Weight, &attrs); err != nil {
			return nil, apperrors.Transient("graph.store", "scan edge", err)
		}
		e.Source.Scope = models.Scope(srcScope)
		e.Target.Scope = models.Scope(dstScope)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, apperrors.Transient("graph.store", "unmarshal edge attributes", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
