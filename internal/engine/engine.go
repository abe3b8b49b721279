// Package engine dispatches JSON-RPC requests for an established session to
// the configured server capabilities.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/protocolkit/mcpd/internal/jsonrpc"
	"github.com/protocolkit/mcpd/internal/logctx"
	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/sessions"
)

type Engine struct {
	log    *slog.Logger
	server *mcpservice.Server
}

func New(server *mcpservice.Server, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{log: log, server: server}
}

// HandleRequest processes one client request against a live session and
// returns the response to deliver. It never returns nil: protocol-level
// failures become JSON-RPC error responses carrying the request's ID.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   "request",
	})

	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return e.result(req.ID, &mcp.EmptyResult{})

	case mcp.ToolsListMethod:
		return e.result(req.ID, &mcp.ListToolsResult{Tools: e.server.Tools().Snapshot()})

	case mcp.ToolsCallMethod:
		return e.handleToolCall(ctx, sess, req)

	case mcp.LoggingSetLevelMethod:
		return e.handleSetLevel(ctx, sess, req)

	case mcp.InitializeMethod:
		// A second initialize on a live session is a protocol violation.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil)

	default:
		e.log.DebugContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
}

// HandleNotification processes a client notification. Notifications never
// produce a response; unknown ones are logged and dropped.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		Type:   "notification",
	})

	switch mcp.Method(req.Method) {
	case mcp.InitializedNotificationMethod:
		e.log.DebugContext(ctx, "session.initialized")
	default:
		e.log.DebugContext(ctx, "rpc.notification.drop")
	}
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var call mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
	}
	if call.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tool name is required", nil)
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: call.Name})

	res, err := e.server.Tools().Call(ctx, sess, &call)
	if err != nil {
		if errors.Is(err, mcpservice.ErrToolNotFound) {
			e.log.InfoContext(ctx, "tool.call.unknown")
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
		}
		e.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "tool execution failed", nil)
	}
	return e.result(req.ID, res)
}

func (e *Engine) handleSetLevel(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var params mcp.SetLevelRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid logging/setLevel params", nil)
	}
	if !mcp.IsValidLoggingLevel(params.Level) {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid logging level: "+string(params.Level), nil)
	}
	sess.SetLogLevel(params.Level)
	e.log.DebugContext(ctx, "session.loglevel.set", slog.String("level", string(params.Level)))
	return e.result(req.ID, &mcp.EmptyResult{})
}

func (e *Engine) result(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		e.log.Error("rpc.result.marshal.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}
