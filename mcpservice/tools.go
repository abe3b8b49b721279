package mcpservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/sessions"
)

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ErrToolNotFound indicates a tools/call named a tool this server does not
// advertise.
var ErrToolNotFound = errors.New("tool not found")

// ToolsContainer owns a mutable, threadsafe set of tool descriptors and
// handlers. The server dispatches tools/list and tools/call against it.
type ToolsContainer struct {
	mu       sync.RWMutex
	tools    []mcp.Tool
	handlers map[string]ToolHandler
}

// NewToolsContainer constructs a ToolsContainer with the given tools.
func NewToolsContainer(defs ...StaticTool) *ToolsContainer {
	tc := &ToolsContainer{}
	tc.Replace(defs...)
	return tc
}

// Snapshot returns a copy of the current tool descriptors.
func (tc *ToolsContainer) Snapshot() []mcp.Tool {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]mcp.Tool, len(tc.tools))
	copy(out, tc.tools)
	return out
}

// Replace atomically replaces the entire tool set. Duplicate names resolve
// last-write-wins.
func (tc *ToolsContainer) Replace(defs ...StaticTool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.tools = make([]mcp.Tool, 0, len(defs))
	tc.handlers = make(map[string]ToolHandler, len(defs))
	for _, d := range defs {
		tc.tools = append(tc.tools, d.Descriptor)
		if d.Handler != nil {
			tc.handlers[d.Descriptor.Name] = d.Handler
		}
	}
}

// Add registers a new tool if the name is not already taken. Returns true if
// added.
func (tc *ToolsContainer) Add(def StaticTool) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.handlers == nil {
		tc.handlers = make(map[string]ToolHandler)
	}
	name := def.Descriptor.Name
	if _, exists := tc.handlers[name]; exists {
		return false
	}
	for _, t := range tc.tools {
		if t.Name == name {
			return false
		}
	}
	tc.tools = append(tc.tools, def.Descriptor)
	if def.Handler != nil {
		tc.handlers[name] = def.Handler
	}
	return true
}

// UpdateDescriptor swaps the descriptor of an existing tool in place. Returns
// false when no tool with that name exists.
func (tc *ToolsContainer) UpdateDescriptor(desc mcp.Tool) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for i, t := range tc.tools {
		if t.Name == desc.Name {
			tc.tools[i] = desc
			return true
		}
	}
	return false
}

// Call dispatches a request to the named tool.
func (tc *ToolsContainer) Call(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	if req == nil || req.Name == "" {
		return nil, fmt.Errorf("invalid tool request: missing name")
	}
	tc.mu.RLock()
	h := tc.handlers[req.Name]
	tc.mu.RUnlock()
	if h == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, req.Name)
	}
	return h(ctx, session, req)
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and
// IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: msg}}, IsError: true}
}
