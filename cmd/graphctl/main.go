// Command graphctl is an operator tool for inspecting and diagnosing the
// graph memory store: consolidation orphan detection. It has no recall
// command.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/wisebound/sentinel/pkg/graph"
	"github.com/wisebound/sentinel/pkg/models"
)

func main() {
	var (
		host     = flag.String("host", envOr("GRAPH_DB_HOST", "localhost"), "graph database host")
		port     = flag.Int("port", 5432, "graph database port")
		user     = flag.String("user", envOr("GRAPH_DB_USER", "sentinel"), "graph database user")
		password = flag.String("password", envOr("GRAPH_DB_PASSWORD", ""), "graph database password")
		database = flag.String("database", envOr("GRAPH_DB_NAME", "sentinel_graph"), "graph database name")
		scope    = flag.String("scope", string(models.ScopeLocal), "scope to scan for orphans")
		window   = flag.Duration("window", 30*24*time.Hour, "trailing window to scan for orphans")
	)
	flag.Parse()

	ctx := context.Background()
	store, err := graph.NewStore(ctx, graph.Config{
		Host: *host, Port: *port, User: *user, Password: *password, Database: *database, SSLMode: "disable",
	})
	if err != nil {
		slog.Error("graphctl: connect failed", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	mem := graph.New(store)
	consolidator := graph.NewConsolidator(mem)

	orphans, err := consolidator.Orphans(ctx, models.Scope(*scope), *window)
	if err != nil {
		slog.Error("graphctl: orphan scan failed", "error", err)
		os.Exit(1)
	}
	if len(orphans) == 0 {
		slog.Info("graphctl: no orphans found", "scope", *scope, "window", window.String())
		return
	}
	for _, o := range orphans {
		slog.Warn("orphaned source node", "node_id", o.Node.NodeID, "scope", o.Node.Scope, "level", o.Level)
	}
	os.Exit(1)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
