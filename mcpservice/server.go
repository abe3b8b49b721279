package mcpservice

import (
	"errors"

	"github.com/protocolkit/mcpd/mcp"
)

// Server describes everything an MCP server instance offers: its identity,
// its instructions, and its tool set. It is immutable after construction
// except for the ToolsContainer, which synchronizes its own mutation.
type Server struct {
	info         mcp.ImplementationInfo
	instructions string
	tools        *ToolsContainer
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerInfo sets the server's advertised identity.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithInstructions sets static human-readable instructions returned during
// initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *Server) { s.instructions = instr }
}

// WithToolsContainer attaches the server's tool set.
func WithToolsContainer(tc *ToolsContainer) ServerOption {
	return func(s *Server) { s.tools = tc }
}

// NewServer constructs a Server. A nil tools container is replaced with an
// empty one so the tools capability is always present.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		info: mcp.ImplementationInfo{Name: "mcpd", Version: "0.0.0"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = NewToolsContainer()
	}
	return s
}

func (s *Server) Info() mcp.ImplementationInfo { return s.info }
func (s *Server) Instructions() string         { return s.instructions }
func (s *Server) Tools() *ToolsContainer       { return s.tools }

// Capabilities returns the capability set advertised during initialize. The
// tools capability is always present; logging is always supported.
func (s *Server) Capabilities() mcp.ServerCapabilities {
	return mcp.ServerCapabilities{
		Logging: &struct{}{},
		Tools: &struct {
			ListChanged bool `json:"listChanged"`
		}{},
	}
}

// ErrInvalidLoggingLevel indicates the provided level is not one of the
// protocol-defined LoggingLevel values.
var ErrInvalidLoggingLevel = errors.New("invalid logging level")
