// Package tool generalizes the MCP-style tool invocation contract
// (codeready-toolchain-tarsy's pkg/mcp) into a plain Go service interface
// for the Handler Dispatch's Tool action (spec.md §4.6).
package tool

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Call is a single tool invocation request.
type Call struct {
	Name      string // "server.tool" format
	Arguments map[string]any
}

// Result is the outcome of a tool invocation. Router reports an invalid or
// unregistered tool name through IsError/Content, as content the DMAs can
// reason about; an error from the backend's CallTool is returned as a Go
// error instead.
type Result struct {
	Name    string
	Content string
	IsError bool
}

// Service is the contract the Handler Dispatch's Tool action calls
// through (spec.md §6: generalized collaborator contract).
type Service interface {
	Invoke(ctx context.Context, call Call) (Result, error)
	ListTools(ctx context.Context) ([]Definition, error)
}

// Definition describes one registered tool for prompt construction.
type Definition struct {
	Name             string
	Description      string
	ParametersSchema string
}

var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// SplitName splits "server.tool" into (serverID, toolName, error).
func SplitName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf("invalid tool name %q: must be in 'server.tool' format", name)
	}
	return matches[1], matches[2], nil
}

// NormalizeName converts "server__tool" (underscore-separated, used by
// some LLM function-calling dialects that disallow dots) to the canonical
// "server.tool" form.
func NormalizeName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}
