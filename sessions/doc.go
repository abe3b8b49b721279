// Package sessions owns the lifetime of MCP sessions for a single-process
// server. A session is created by the initialize handshake, addressed by the
// Mcp-Session-Id header on every later request, and carries the negotiated
// protocol version, the authenticated client, the session's logging level,
// and at most one server-to-client notification stream.
package sessions
