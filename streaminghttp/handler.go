// Package streaminghttp serves the MCP streamable HTTP transport: POST
// carries client JSON-RPC traffic, GET attaches the session's single SSE
// notification stream, and DELETE terminates the session.
package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/protocolkit/mcpd/auth"
	"github.com/protocolkit/mcpd/internal/engine"
	"github.com/protocolkit/mcpd/internal/jsonrpc"
	"github.com/protocolkit/mcpd/internal/logctx"
	"github.com/protocolkit/mcpd/internal/wellknown"
	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/sessions"
)

var _ http.Handler = (*StreamingHTTPHandler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
	authorizationHeader      = "Authorization"
	wwwAuthenticateHeader    = "WWW-Authenticate"
)

// Option configures the StreamingHTTPHandler.
type Option func(*newConfig)

type newConfig struct {
	serverName            string
	logger                *slog.Logger
	realm                 string
	challengeScope        string
	authorizationServers  []string
	introspectionEndpoint string
	scopesSupported       []string
}

// WithServerName sets a human-readable server name surfaced in the protected
// resource metadata.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the slog logger used by the handler. If not provided,
// slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRealm sets the HTTP authentication realm advertised in WWW-Authenticate
// challenges. If empty (default) the realm attribute is omitted per RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithChallengeScope sets the scope attribute echoed in Bearer challenges so
// clients know what to request during authorization.
func WithChallengeScope(scope string) Option {
	return func(c *newConfig) { c.challengeScope = strings.TrimSpace(scope) }
}

// WithAuthorizationServers lists the issuer URLs advertised in the protected
// resource metadata document.
func WithAuthorizationServers(issuers ...string) Option {
	return func(c *newConfig) { c.authorizationServers = append([]string(nil), issuers...) }
}

// WithIntrospectionEndpoint advertises the authorization server's
// introspection endpoint in the protected resource metadata.
func WithIntrospectionEndpoint(endpoint string) Option {
	return func(c *newConfig) { c.introspectionEndpoint = endpoint }
}

// WithScopesSupported lists the scopes advertised in the protected resource
// metadata document.
func WithScopesSupported(scopes ...string) Option {
	return func(c *newConfig) { c.scopesSupported = append([]string(nil), scopes...) }
}

// buildBearerChallenge builds a standardized Bearer challenge header value:
//
//	Bearer realm="<realm>", resource_metadata="<url>", error="...", scope="..."
//
// Empty attributes are omitted. Go map iteration is randomized, so the
// attribute order we care about is built explicitly.
func buildBearerChallenge(realm string, resourceMetadata string, params map[string]string) string {
	pieces := make([]string, 0, 2+len(params))
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	if realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(realm)))
	}
	if resourceMetadata != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(resourceMetadata)))
	}
	if params != nil {
		if v, ok := params["error"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(v)))
		}
		if v, ok := params["error_description"]; ok {
			pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(v)))
		}
		if v, ok := params["scope"]; ok {
			pieces = append(pieces, fmt.Sprintf(`scope="%s"`, esc(v)))
		}
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// StreamingHTTPHandler implements the streamable HTTP transport of the Model
// Context Protocol over a single endpoint path.
type StreamingHTTPHandler struct {
	mux            *http.ServeMux
	log            *slog.Logger
	serverURL      *url.URL
	prmDocument    wellknown.ProtectedResourceMetadata
	prmDocumentURL *url.URL

	verifier auth.Verifier
	server   *mcpservice.Server
	eng      *engine.Engine
	registry *sessions.Registry

	realm          string
	challengeScope string
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and avoids
// writing after ctx is canceled.
type lockedWriteFlusher struct {
	w   http.ResponseWriter
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.f.Flush()
}

// New constructs a StreamingHTTPHandler.
//
// Required:
//   - publicEndpoint: externally visible URL of the MCP endpoint (scheme, host, path)
//   - server: the mcpservice.Server whose capabilities are exposed
//   - verifier: bearer token verifier guarding every endpoint method
func New(publicEndpoint string, server *mcpservice.Server, verifier auth.Verifier, opts ...Option) (*StreamingHTTPHandler, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("verifier is required")
	}

	mcpURL, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", publicEndpoint, err)
	}
	if mcpURL.Scheme != "https" && mcpURL.Scheme != "http" {
		return nil, fmt.Errorf("server URL must use HTTP or HTTPS scheme, got %q", mcpURL.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	h := &StreamingHTTPHandler{
		log:            log,
		serverURL:      mcpURL,
		verifier:       verifier,
		server:         server,
		registry:       sessions.NewRegistry(log),
		realm:          cfg.realm,
		challengeScope: cfg.challengeScope,
	}
	h.eng = engine.New(server, log)

	h.prmDocumentURL = &url.URL{Scheme: mcpURL.Scheme, Host: mcpURL.Host, Path: fmt.Sprintf("/.well-known/oauth-protected-resource%s", mcpURL.Path)}
	h.prmDocument = wellknown.ProtectedResourceMetadata{
		Resource:               mcpURL.String(),
		AuthorizationServers:   cfg.authorizationServers,
		ScopesSupported:        cfg.scopesSupported,
		BearerMethodsSupported: []string{"authorization_header"},
		ResourceName:           cfg.serverName,
		IntrospectionEndpoint:  cfg.introspectionEndpoint,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(mcpURL)), h.handlePostMCP)
	mux.HandleFunc(fmt.Sprintf("GET %s", pathOnly(mcpURL)), h.handleGetMCP)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", pathOnly(mcpURL)), h.handleDeleteMCP)
	prmPath := pathOnly(h.prmDocumentURL)
	mux.HandleFunc(fmt.Sprintf("GET %s", prmPath), h.handleGetProtectedResourceMetadata)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", prmPath), h.handleOptionsProtectedResourceMetadata)
	h.mux = mux
	return h, nil
}

// Registry exposes the session table, primarily for shutdown.
func (h *StreamingHTTPHandler) Registry() *sessions.Registry { return h.registry }

// pathOnly returns just the URL path or "/" if empty.
func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *StreamingHTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// acceptsMediaType reports whether the Accept header explicitly names the
// given media type (or its type/* form). Wildcard */* does not count: the
// transport requires clients to state up front that they can consume both
// response shapes, and a blanket wildcard is treated as a client that never
// read the contract.
func acceptsMediaType(r *http.Request, want contenttype.MediaType) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		entry := strings.TrimSpace(part)
		if i := strings.IndexByte(entry, ';'); i >= 0 {
			entry = strings.TrimSpace(entry[:i])
		}
		if strings.EqualFold(entry, want.String()) || strings.EqualFold(entry, want.Type+"/*") {
			return true
		}
	}
	return false
}

// writeRPCError writes a JSON-RPC error response body with the given HTTP
// status. A nil id serializes as id:null, which is how transport-level
// rejections that precede request identification are reported.
func (h *StreamingHTTPHandler) writeRPCError(ctx context.Context, w http.ResponseWriter, status int, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(id, code, msg, nil)); err != nil {
		h.log.ErrorContext(ctx, "http.error.write.fail", slog.String("err", err.Error()))
	}
}

// handlePostMCP handles POST requests: the initialize handshake and all
// subsequent client-to-server JSON-RPC traffic.
func (h *StreamingHTTPHandler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	// Every POST, initialize included, must declare willingness to consume
	// both response shapes.
	if !acceptsMediaType(r, jsonMediaType) || !acceptsMediaType(r, eventStreamMediaType) {
		h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", r.Header.Get("Accept")))
		h.writeRPCError(ctx, w, http.StatusNotAcceptable, nil, jsonrpc.ErrorCodeTransportRejected,
			"Not Acceptable: Client must accept both application/json and text/event-stream")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		h.writeRPCError(ctx, w, http.StatusUnsupportedMediaType, nil, jsonrpc.ErrorCodeTransportRejected,
			"Unsupported Media Type: Content-Type must be application/json")
		return
	}

	authResult := h.checkAuthentication(ctx, r, w)
	if authResult == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeParseError, "invalid JSON body")
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are not supported")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message: "+err.Error())
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	sessID := r.Header.Get(mcpSessionIDHeader)

	if req := msg.AsRequest(); req != nil && req.Method == string(mcp.InitializeMethod) {
		// A session ID on initialize is a suggestion: a restarting client may
		// resume under its previous ID as long as it is not currently live.
		h.handleInitialize(ctx, w, authResult, sessID, req, start)
		return
	}

	if sessID == "" {
		h.log.InfoContext(ctx, "session.id.missing")
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Bad Request: Mcp-Session-Id header is required")
		return
	}

	sess, err := h.registry.Get(sessID)
	if err != nil {
		h.log.InfoContext(ctx, "session.load.miss")
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "Bad Request: unknown session")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ClientID:        sess.ClientID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		h.writeRPCError(ctx, w, http.StatusBadRequest, nil, jsonrpc.ErrorCodeInvalidRequest, "protocol version mismatch")
		return
	}

	req := msg.AsRequest()
	if req == nil {
		// Client-to-server responses have no place in this server's message
		// flow; accept and drop.
		h.log.DebugContext(ctx, "response.inbound.drop")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.ID.IsNil() {
		h.eng.HandleNotification(ctx, sess, req)
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	res := h.eng.HandleRequest(ctx, sess, req)

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		// Headers are gone; nothing to do but log.
		h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) handleInitialize(ctx context.Context, w http.ResponseWriter, authResult *auth.Result, suggestedID string, req *jsonrpc.Request, start time.Time) {
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			h.writeRPCError(ctx, w, http.StatusBadRequest, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
			return
		}
	}

	sess, err := h.registry.Create(suggestedID, authResult.ClientID, negotiateProtocolVersion(initReq.ProtocolVersion), initReq.ClientInfo)
	if err != nil {
		if errors.Is(err, sessions.ErrSessionExists) {
			h.log.WarnContext(ctx, "session.create.conflict")
			h.writeRPCError(ctx, w, http.StatusConflict, req.ID, jsonrpc.ErrorCodeInvalidRequest, "session id already in use")
			return
		}
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		h.writeRPCError(ctx, w, http.StatusInternalServerError, req.ID, jsonrpc.ErrorCodeInternalError, "failed to initialize session")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), ClientID: sess.ClientID()})

	initRes := &mcp.InitializeResult{
		ProtocolVersion: sess.ProtocolVersion(),
		Capabilities:    h.server.Capabilities(),
		ServerInfo:      h.server.Info(),
		Instructions:    h.server.Instructions(),
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		h.writeRPCError(ctx, w, http.StatusInternalServerError, req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode initialize response")
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// negotiateProtocolVersion echoes a known client version or counters with the
// server's own.
func negotiateProtocolVersion(requested string) string {
	switch requested {
	case "2024-11-05", "2025-03-26", "2025-06-18":
		return requested
	default:
		return mcp.ProtocolVersion
	}
}

// handleGetMCP attaches the session's server-to-client SSE stream. Only one
// subscriber may hold the stream at a time.
func (h *StreamingHTTPHandler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !acceptsMediaType(r, eventStreamMediaType) {
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		http.Error(w, "Not Acceptable: Client must accept text/event-stream", http.StatusNotAcceptable)
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	authResult := h.checkAuthentication(ctx, r, w)
	if authResult == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "session.id.missing")
		http.Error(w, "Bad Request: Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}

	sess, err := h.registry.Get(sessID)
	if err != nil {
		h.log.InfoContext(ctx, "session.load.miss")
		http.Error(w, "Bad Request: unknown session", http.StatusBadRequest)
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ClientID:        sess.ClientID(),
		ProtocolVersion: sess.ProtocolVersion(),
	})

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" && pv != sess.ProtocolVersion() {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
		http.Error(w, "protocol version mismatch", http.StatusPreconditionFailed)
		return
	}

	stream, release, err := sess.Subscribe()
	if err != nil {
		if errors.Is(err, sessions.ErrAlreadySubscribed) {
			// The first stream stays attached; this one is turned away.
			h.log.WarnContext(ctx, "sse.subscribe.conflict")
			http.Error(w, "Conflict: session already has an active stream", http.StatusConflict)
			return
		}
		h.log.InfoContext(ctx, "sse.subscribe.closed")
		http.Error(w, "Bad Request: unknown session", http.StatusBadRequest)
		return
	}
	defer release()

	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case note, ok := <-stream:
			if !ok {
				// Session terminated from the DELETE side.
				h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
				return
			}
			b, err := json.Marshal(note)
			if err != nil {
				h.log.ErrorContext(ctx, "sse.message.marshal.fail", slog.String("err", err.Error()))
				continue
			}
			if err := writeSSEEvent(wf, b); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

// handleDeleteMCP terminates an existing session. Any attached SSE stream is
// closed and every later request naming the session is refused.
func (h *StreamingHTTPHandler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	authResult := h.checkAuthentication(ctx, r, w)
	if authResult == nil {
		h.log.InfoContext(ctx, "auth.fail")
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "session.id.missing")
		http.Error(w, "Bad Request: Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}

	if err := h.registry.Delete(sessID); err != nil {
		h.log.InfoContext(ctx, "session.delete.miss")
		http.Error(w, "Bad Request: unknown session", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

func (h *StreamingHTTPHandler) handleOptionsProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProtectedResourceMetadata serves the OAuth2 Protected Resource
// Metadata document. It is deliberately unauthenticated: clients consult it
// to find out how to authenticate.
func (h *StreamingHTTPHandler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.prmDocument); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode protected resource metadata: %v", err), http.StatusInternalServerError)
		return
	}
}

// checkAuthentication runs the bearer token gate. On failure it writes the
// 401 challenge response and returns nil. Every failure shape (missing
// header, malformed header, invalid token, expired token) is a 401 so clients
// always rediscover authorization through the advertised metadata.
func (h *StreamingHTTPHandler) checkAuthentication(ctx context.Context, r *http.Request, w http.ResponseWriter) *auth.Result {
	challenge := func(params map[string]string) {
		if h.challengeScope != "" {
			if params == nil {
				params = map[string]string{}
			}
			params["scope"] = h.challengeScope
		}
		w.Header().Add(wwwAuthenticateHeader, buildBearerChallenge(h.realm, h.prmDocumentURL.String(), params))
		w.WriteHeader(http.StatusUnauthorized)
	}

	authHeader := r.Header.Get(authorizationHeader)

	var token string
	const bearerPrefix = "Bearer "
	switch {
	case authHeader == "":
		// RFC 6750: no credentials presented, challenge without an error code.
	case !strings.HasPrefix(authHeader, bearerPrefix) || len(authHeader) <= len(bearerPrefix):
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", "malformed bearer authorization header"))
		challenge(map[string]string{"error": "invalid_request", "error_description": "malformed bearer authorization header"})
		return nil
	default:
		token = strings.TrimSpace(authHeader[len(bearerPrefix):])
	}

	result, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.log.InfoContext(ctx, "auth.check.fail", slog.String("err", err.Error()))
		if authHeader == "" {
			challenge(nil)
		} else {
			challenge(map[string]string{"error": "invalid_token", "error_description": "token validation failed"})
		}
		return nil
	}

	// A verifier may have validated the token some time ago relative to a
	// long-poll or retried request; always re-compare expiry at the gate.
	if result.Expired(time.Now()) {
		h.log.InfoContext(ctx, "auth.check.expired")
		challenge(map[string]string{"error": "invalid_token", "error_description": "token expired"})
		return nil
	}

	return result
}

// writeSSEEvent writes one Server-Sent Event data frame and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
