package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/protocolkit/mcpd/auth"
)

// fakeIntrospection answers RFC 7662 requests with a fixed active document.
func fakeIntrospection(t *testing.T, aud string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"active":    true,
			"client_id": "client-1",
			"aud":       aud,
			"scope":     "mcp:tools",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestBuildVerifierDefaultsAudienceToPublicEndpoint(t *testing.T) {
	const endpoint = "http://rs.test/mcp"
	as := fakeIntrospection(t, endpoint)

	cfg := config{
		AuthMode:              "introspection",
		PublicEndpoint:        endpoint,
		IntrospectionEndpoint: as.URL + "/introspect",
		IntrospectionClientID: "rs",
	}
	v, _, err := buildVerifier(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildVerifier: %v", err)
	}

	// With no configured audience the server's own canonical URL is the
	// expected aud, so a token scoped to it passes.
	res, err := v.Verify(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.ClientID != "client-1" {
		t.Errorf("ClientID = %q", res.ClientID)
	}
}

func TestBuildVerifierRejectsForeignAudience(t *testing.T) {
	as := fakeIntrospection(t, "http://other.test/mcp")

	cfg := config{
		AuthMode:              "introspection",
		PublicEndpoint:        "http://rs.test/mcp",
		IntrospectionEndpoint: as.URL + "/introspect",
		IntrospectionClientID: "rs",
	}
	v, _, err := buildVerifier(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildVerifier: %v", err)
	}

	if _, err := v.Verify(context.Background(), "tok-1"); !errors.Is(err, auth.ErrUnauthorized) {
		t.Fatalf("Verify = %v, want ErrUnauthorized", err)
	}
}
