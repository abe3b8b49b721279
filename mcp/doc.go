// Package mcp defines the wire-level types of the Model Context Protocol
// subset spoken by this server: the initialize handshake, tool listing and
// invocation, and the server-to-client logging notification channel.
//
// The types here are deliberately transport-agnostic; framing (JSON-RPC
// envelopes, SSE events) lives in internal/jsonrpc and streaminghttp.
package mcp
