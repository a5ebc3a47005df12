package tool

import (
	"context"
	"fmt"
	"sort"

	"github.com/wisebound/sentinel/pkg/apperrors"
)

// Server is a single backend a Router can dispatch calls to (grounded on
// mcp.Client's per-server CallTool/ListTools split).
type Server interface {
	CallTool(ctx context.Context, toolName string, args map[string]any) (Result, error)
	ListTools(ctx context.Context) ([]Definition, error)
}

// Router implements Service by dispatching "server.tool" calls to
// registered Server backends (grounded on
// codeready-toolchain-tarsy/pkg/mcp/router.go and executor.go's
// resolveToolCall, generalized from a fixed MCP client to an arbitrary
// Server registry).
type Router struct {
	servers map[string]Server
}

// NewRouter builds an empty Router.
func NewRouter() *Router {
	return &Router{servers: make(map[string]Server)}
}

// Register adds a backend under serverID.
func (r *Router) Register(serverID string, server Server) {
	r.servers[serverID] = server
}

// Invoke implements Service.
func (r *Router) Invoke(ctx context.Context, call Call) (Result, error) {
	name := NormalizeName(call.Name)
	serverID, toolName, err := SplitName(name)
	if err != nil {
		return Result{Name: call.Name, Content: err.Error(), IsError: true}, nil
	}
	server, ok := r.servers[serverID]
	if !ok {
		return Result{
			Name:    call.Name,
			Content: fmt.Sprintf("tool server %q is not registered", serverID),
			IsError: true,
		}, nil
	}
	result, err := server.CallTool(ctx, toolName, call.Arguments)
	if err != nil {
		return Result{}, apperrors.Transient("tool.router", "call "+name, err)
	}
	result.Name = call.Name
	return result, nil
}

// ListTools implements Service, aggregating every registered server's
// tools under server-prefixed names.
func (r *Router) ListTools(ctx context.Context) ([]Definition, error) {
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Definition
	for _, id := range ids {
		defs, err := r.servers[id].ListTools(ctx)
		if err != nil {
			continue // partial tool listing beats none
		}
		for _, d := range defs {
			d.Name = id + "." + d.Name
			out = append(out, d)
		}
	}
	return out, nil
}
