package streaminghttp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/protocolkit/mcpd/auth"
	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/toolpack"
)

type rpcEnvelope struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T, verifier auth.Verifier, opts ...Option) *httptest.Server {
	t.Helper()

	server := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "0.0.1"}),
		mcpservice.WithToolsContainer(mcpservice.NewToolsContainer(toolpack.TextPack(0)...)),
	)
	if verifier == nil {
		verifier = auth.Insecure()
	}

	h, err := New("http://example.test/mcp", server, verifier, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts
}

func postRPC(t *testing.T, ts *httptest.Server, sessionID string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func decodeRPC(t *testing.T, resp *http.Response) *rpcEnvelope {
	t.Helper()
	defer resp.Body.Close()

	var env rpcEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return &env
}

func initializeSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	resp := postRPC(t, ts, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"test-client","version":"1.0"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d, want 200", resp.StatusCode)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("initialize response missing Mcp-Session-Id header")
	}
	env := decodeRPC(t, resp)
	if env.Error != nil {
		t.Fatalf("initialize returned error: %+v", env.Error)
	}
	return sessID
}

func TestPostRejectsWildcardAccept(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, accept := range []string{"*/*", "application/json", "text/event-stream", ""} {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		if resp.StatusCode != http.StatusNotAcceptable {
			t.Errorf("Accept %q: status = %d, want 406", accept, resp.StatusCode)
		}
		env := decodeRPC(t, resp)
		if env.Error == nil || env.Error.Code != -32000 {
			t.Errorf("Accept %q: error = %+v, want code -32000", accept, env.Error)
		}
		if string(env.ID) != "null" {
			t.Errorf("Accept %q: id = %s, want null", accept, env.ID)
		}
	}
}

func TestPostRejectsNonJSONContentType(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader("id=1"))
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32000 {
		t.Fatalf("error = %+v, want code -32000", env.Error)
	}
}

func TestPostRejectsBatchArrays(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postRPC(t, ts, "", `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32600 {
		t.Fatalf("error = %+v, want code -32600", env.Error)
	}
}

func TestInitializeIssuesSession(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postRPC(t, ts, "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"c","version":"1"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got == "" {
		t.Error("missing Mcp-Session-Id header")
	}
	if got := resp.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
		t.Errorf("Mcp-Protocol-Version = %q, want 2025-06-18", got)
	}

	env := decodeRPC(t, resp)
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}
	var result mcp.InitializeResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.ProtocolVersion != "2025-06-18" {
		t.Errorf("protocolVersion = %q, want 2025-06-18", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "test-server" {
		t.Errorf("serverInfo.name = %q, want test-server", result.ServerInfo.Name)
	}
	if result.Capabilities.Tools == nil {
		t.Error("capabilities.tools missing")
	}
}

func TestInitializeSessionsAreDistinct(t *testing.T) {
	ts := newTestServer(t, nil)

	a := initializeSession(t, ts)
	b := initializeSession(t, ts)
	if a == b {
		t.Fatalf("two initialize calls yielded the same session id %q", a)
	}
}

func TestInitializeHonorsSuggestedSessionID(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postRPC(t, ts, "resumed-session-7", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got != "resumed-session-7" {
		t.Fatalf("Mcp-Session-Id = %q, want suggested id echoed", got)
	}

	// The resumed session is live and routable.
	listResp := postRPC(t, ts, "resumed-session-7", `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	defer listResp.Body.Close()
	if listResp.StatusCode != http.StatusOK {
		t.Fatalf("tools/list status = %d, want 200", listResp.StatusCode)
	}
}

func TestInitializeWithLiveSessionIDConflicts(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32600 {
		t.Fatalf("error = %+v, want code -32600", env.Error)
	}
}

func TestPostRequiresSession(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postRPC(t, ts, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32600 {
		t.Fatalf("error = %+v, want code -32600", env.Error)
	}
	if string(env.ID) != "null" {
		t.Errorf("id = %s, want null", env.ID)
	}
}

func TestPostUnknownSession(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := postRPC(t, ts, "no-such-session", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32600 {
		t.Fatalf("error = %+v, want code -32600", env.Error)
	}
}

func TestToolsListAndCall(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools/list status = %d, want 200", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error != nil {
		t.Fatalf("tools/list error: %+v", env.Error)
	}
	var list mcp.ListToolsResult
	if err := json.Unmarshal(env.Result, &list); err != nil {
		t.Fatalf("unmarshal tools/list result: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range list.Tools {
		names[tool.Name] = true
	}
	if !names["greet"] || !names["count"] {
		t.Fatalf("tools = %v, want greet and count", names)
	}

	resp = postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"greet","arguments":{"name":"Gopher"}}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tools/call status = %d, want 200", resp.StatusCode)
	}
	env = decodeRPC(t, resp)
	if env.Error != nil {
		t.Fatalf("tools/call error: %+v", env.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal tools/call result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Hello, Gopher!" {
		t.Fatalf("content = %+v, want single text block %q", result.Content, "Hello, Gopher!")
	}
}

func TestCallUnknownToolReturnsInvalidParams(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"bogus"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32602 {
		t.Fatalf("error = %+v, want code -32602", env.Error)
	}
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`)
	env := decodeRPC(t, resp)
	if env.Error == nil || env.Error.Code != -32601 {
		t.Fatalf("error = %+v, want code -32601", env.Error)
	}
}

func TestNotificationsAreAccepted(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
}

func TestDeleteTerminatesSession(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	// The id is gone for every later request on every method.
	postResp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST after delete status = %d, want 400", postResp.StatusCode)
	}

	req2, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req2.Header.Set("Mcp-Session-Id", sessID)
	resp2, err := ts.Client().Do(req2)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	body, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("second DELETE status = %d, want 400", resp2.StatusCode)
	}
	if !strings.Contains(string(body), "unknown session") {
		t.Errorf("second DELETE body = %q, want plain-text unknown session", body)
	}
}

func TestGetRequiresSessionHeader(t *testing.T) {
	ts := newTestServer(t, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestGetRejectsWildcardAccept(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", resp.StatusCode)
	}
}

// openStream attaches the session's SSE stream and returns a reader over it.
func openStream(t *testing.T, ts *httptest.Server, sessID string) (*bufio.Reader, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("stream status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		resp.Body.Close()
		cancel()
		t.Fatalf("stream Content-Type = %q, want text/event-stream", ct)
	}
	return bufio.NewReader(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

// readSSEData reads lines until one "data: <payload>" frame is consumed.
func readSSEData(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()

	deadline := time.After(5 * time.Second)
	lineCh := make(chan []byte, 1)
	errCh := make(chan error, 1)
	go func() {
		for {
			line, err := r.ReadBytes('\n')
			if err != nil {
				errCh <- err
				return
			}
			line = bytes.TrimRight(line, "\n")
			if len(line) == 0 {
				continue
			}
			if bytes.HasPrefix(line, []byte("data: ")) {
				lineCh <- bytes.TrimPrefix(line, []byte("data: "))
				return
			}
		}
	}()

	select {
	case line := <-lineCh:
		return line
	case err := <-errCh:
		t.Fatalf("read SSE frame: %v", err)
	case <-deadline:
		t.Fatal("timed out waiting for SSE frame")
	}
	return nil
}

func TestCountNotificationsFlowOverStream(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	stream, closeStream := openStream(t, ts, sessID)
	defer closeStream()

	resp := postRPC(t, ts, sessID, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"count","arguments":{"number":3}}}`)
	env := decodeRPC(t, resp)
	if env.Error != nil {
		t.Fatalf("count error: %+v", env.Error)
	}
	var result mcp.CallToolResult
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("unmarshal count result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Counted to 3." {
		t.Fatalf("content = %+v, want %q", result.Content, "Counted to 3.")
	}

	// All three progress frames were published before the call returned, so
	// they must now arrive in order.
	for i := 1; i <= 3; i++ {
		payload := readSSEData(t, stream)
		var note struct {
			Jsonrpc string `json:"jsonrpc"`
			Method  string `json:"method"`
			Params  struct {
				Level  string `json:"level"`
				Logger string `json:"logger"`
				Data   string `json:"data"`
			} `json:"params"`
		}
		if err := json.Unmarshal(payload, &note); err != nil {
			t.Fatalf("unmarshal notification %d: %v (payload %s)", i, err, payload)
		}
		if note.Method != "notifications/message" {
			t.Errorf("notification %d method = %q, want notifications/message", i, note.Method)
		}
		if want := fmt.Sprintf("%d/3", i); note.Params.Data != want {
			t.Errorf("notification %d data = %q, want %q", i, note.Params.Data, want)
		}
	}
}

func TestSecondStreamSubscriberConflicts(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	_, closeStream := openStream(t, ts, sessID)
	defer closeStream()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second stream status = %d, want 409", resp.StatusCode)
	}
}

func TestDeleteClosesAttachedStream(t *testing.T) {
	ts := newTestServer(t, nil)
	sessID := initializeSession(t, ts)

	stream, closeStream := openStream(t, ts, sessID)
	defer closeStream()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", resp.StatusCode)
	}

	// The server ends the stream; the reader sees EOF shortly after.
	done := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(stream)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			t.Fatalf("stream read after delete: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after session delete")
	}
}

func TestProtectedResourceMetadata(t *testing.T) {
	ts := newTestServer(t, nil,
		WithServerName("test-server"),
		WithAuthorizationServers("http://issuer.test"),
		WithIntrospectionEndpoint("http://issuer.test/introspect"),
		WithScopesSupported("mcp:tools"),
	)

	resp, err := ts.Client().Get(ts.URL + "/.well-known/oauth-protected-resource/mcp")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var doc struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		IntrospectionEndpoint string  `json:"introspection_endpoint"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if doc.Resource != "http://example.test/mcp" {
		t.Errorf("resource = %q, want http://example.test/mcp", doc.Resource)
	}
	if len(doc.AuthorizationServers) != 1 || doc.AuthorizationServers[0] != "http://issuer.test" {
		t.Errorf("authorization_servers = %v", doc.AuthorizationServers)
	}
	if doc.IntrospectionEndpoint != "http://issuer.test/introspect" {
		t.Errorf("introspection_endpoint = %q", doc.IntrospectionEndpoint)
	}
}

func TestAuthChallenges(t *testing.T) {
	goodToken := "good-token"
	verifier := auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Result, error) {
		switch token {
		case goodToken:
			return &auth.Result{ClientID: "client-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		case "expired-token":
			return &auth.Result{ClientID: "client-1", ExpiresAt: time.Now().Add(-time.Minute)}, nil
		default:
			return nil, auth.ErrUnauthorized
		}
	})
	ts := newTestServer(t, verifier, WithChallengeScope("mcp:tools"))

	do := func(authorization string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
		req.Header.Set("Accept", "application/json, text/event-stream")
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
		return resp
	}

	cases := []struct {
		name          string
		authorization string
		wantStatus    int
		wantChallenge string
	}{
		{"missing header", "", http.StatusUnauthorized, "resource_metadata="},
		{"malformed scheme", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, `error="invalid_request"`},
		{"bare bearer", "Bearer ", http.StatusUnauthorized, `error="invalid_request"`},
		{"bad token", "Bearer nope", http.StatusUnauthorized, `error="invalid_token"`},
		{"expired token", "Bearer expired-token", http.StatusUnauthorized, "token expired"},
		{"good token", "Bearer " + goodToken, http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(tc.authorization)
			defer resp.Body.Close()
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
			challenge := resp.Header.Get("WWW-Authenticate")
			if tc.wantStatus == http.StatusUnauthorized {
				if !strings.HasPrefix(challenge, "Bearer") {
					t.Fatalf("WWW-Authenticate = %q, want Bearer challenge", challenge)
				}
				if !strings.Contains(challenge, tc.wantChallenge) {
					t.Errorf("WWW-Authenticate = %q, want substring %q", challenge, tc.wantChallenge)
				}
				if !strings.Contains(challenge, `scope="mcp:tools"`) {
					t.Errorf("WWW-Authenticate = %q, want scope attribute", challenge)
				}
			}
		})
	}
}

func TestBuildBearerChallenge(t *testing.T) {
	got := buildBearerChallenge("mcp", "https://rs.test/.well-known/oauth-protected-resource/mcp", map[string]string{
		"error": "invalid_token",
		"scope": "mcp:tools",
	})
	want := `Bearer realm="mcp", resource_metadata="https://rs.test/.well-known/oauth-protected-resource/mcp", error="invalid_token", scope="mcp:tools"`
	if got != want {
		t.Errorf("challenge = %q, want %q", got, want)
	}

	if got := buildBearerChallenge("", "", nil); got != "Bearer" {
		t.Errorf("empty challenge = %q, want Bearer", got)
	}
}
