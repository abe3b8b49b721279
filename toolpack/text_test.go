package toolpack

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/sessions"
)

func newSession(t *testing.T) *sessions.Session {
	t.Helper()
	reg := sessions.NewRegistry(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sess, err := reg.Create("", "c", "2025-06-18", mcp.ImplementationInfo{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess
}

func findTool(t *testing.T, name string) func(context.Context, *sessions.Session, *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
	t.Helper()
	for _, tool := range TextPack(0) {
		if tool.Descriptor.Name == name {
			return tool.Handler
		}
	}
	t.Fatalf("tool %q not in pack", name)
	return nil
}

func TestGreetDefaultsToWorld(t *testing.T) {
	handler := findTool(t, "greet")
	sess := newSession(t)

	res, err := handler(context.Background(), sess, &mcp.CallToolRequestReceived{Name: "greet"})
	if err != nil {
		t.Fatalf("greet: %v", err)
	}
	if res.IsError || res.Content[0].Text != "Hello, world!" {
		t.Fatalf("result = %+v", res)
	}

	res, err = handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "greet",
		Arguments: []byte(`{"name":"Ada"}`),
	})
	if err != nil {
		t.Fatalf("greet: %v", err)
	}
	if res.Content[0].Text != "Hello, Ada!" {
		t.Fatalf("result = %+v", res)
	}
}

func TestCountRejectsNegative(t *testing.T) {
	handler := findTool(t, "count")
	sess := newSession(t)

	res, err := handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "count",
		Arguments: []byte(`{"number":-1}`),
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if !res.IsError {
		t.Fatalf("negative count not flagged as error: %+v", res)
	}
}

func TestCountEmitsNotificationsPerStep(t *testing.T) {
	handler := findTool(t, "count")
	sess := newSession(t)

	ch, release, err := sess.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer release()

	res, err := handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "count",
		Arguments: []byte(`{"number":2}`),
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if res.Content[0].Text != "Counted to 2." {
		t.Fatalf("result = %+v", res)
	}
	if got := len(ch); got != 2 {
		t.Fatalf("queued notifications = %d, want 2", got)
	}
}

func TestCountSucceedsWithoutSubscriber(t *testing.T) {
	handler := findTool(t, "count")
	sess := newSession(t)

	res, err := handler(context.Background(), sess, &mcp.CallToolRequestReceived{
		Name:      "count",
		Arguments: []byte(`{"number":3}`),
	})
	if err != nil {
		t.Fatalf("count without subscriber: %v", err)
	}
	if res.IsError || res.Content[0].Text != "Counted to 3." {
		t.Fatalf("result = %+v", res)
	}
}
