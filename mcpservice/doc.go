// Package mcpservice is where server authors describe what an MCP server
// offers: its identity, its tools, and its logging surface. The transport in
// streaminghttp consumes a Server value and dispatches protocol requests to
// it.
package mcpservice
