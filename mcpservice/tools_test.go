package mcpservice

import (
	"context"
	"errors"
	"testing"

	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/sessions"
)

func echoTool(name string) StaticTool {
	return StaticTool{
		Descriptor: mcp.Tool{Name: name},
		Handler: func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
			return TextResult(name), nil
		},
	}
}

func TestToolsContainerSnapshotAndCall(t *testing.T) {
	tc := NewToolsContainer(echoTool("a"), echoTool("b"))

	snap := tc.Snapshot()
	if len(snap) != 2 || snap[0].Name != "a" || snap[1].Name != "b" {
		t.Fatalf("Snapshot = %v", snap)
	}

	res, err := tc.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "a"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Text != "a" {
		t.Fatalf("Call result = %+v", res)
	}
}

func TestToolsContainerUnknownTool(t *testing.T) {
	tc := NewToolsContainer(echoTool("a"))

	_, err := tc.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "missing"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("err = %v, want ErrToolNotFound", err)
	}
}

func TestToolsContainerAdd(t *testing.T) {
	tc := NewToolsContainer(echoTool("a"))

	if !tc.Add(echoTool("b")) {
		t.Fatal("Add of new tool failed")
	}
	if tc.Add(echoTool("a")) {
		t.Fatal("Add of duplicate name succeeded")
	}
	if len(tc.Snapshot()) != 2 {
		t.Fatalf("Snapshot len = %d, want 2", len(tc.Snapshot()))
	}
}

func TestToolsContainerReplace(t *testing.T) {
	tc := NewToolsContainer(echoTool("a"))
	tc.Replace(echoTool("x"), echoTool("y"))

	snap := tc.Snapshot()
	if len(snap) != 2 || snap[0].Name != "x" {
		t.Fatalf("Snapshot after Replace = %v", snap)
	}
	if _, err := tc.Call(context.Background(), nil, &mcp.CallToolRequestReceived{Name: "a"}); !errors.Is(err, ErrToolNotFound) {
		t.Fatal("replaced-away tool still callable")
	}
}

func TestToolsContainerUpdateDescriptor(t *testing.T) {
	tc := NewToolsContainer(echoTool("a"))

	if !tc.UpdateDescriptor(mcp.Tool{Name: "a", Description: "updated"}) {
		t.Fatal("UpdateDescriptor of existing tool failed")
	}
	if tc.UpdateDescriptor(mcp.Tool{Name: "ghost"}) {
		t.Fatal("UpdateDescriptor of unknown tool succeeded")
	}
	if got := tc.Snapshot()[0].Description; got != "updated" {
		t.Errorf("Description = %q, want updated", got)
	}
}

type addArgs struct {
	A int      `json:"a" jsonschema:"description=first operand"`
	B int      `json:"b"`
	T []string `json:"tags,omitempty"`
}

func TestNewToolReflectsSchema(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[addArgs]) error {
		return w.AppendText("ok")
	}, WithToolDescription("Adds numbers."))

	desc := tool.Descriptor
	if desc.Name != "add" || desc.Description != "Adds numbers." {
		t.Fatalf("descriptor = %+v", desc)
	}
	schema := desc.InputSchema
	if schema.Type != "object" {
		t.Fatalf("schema type = %q", schema.Type)
	}
	if schema.Properties["a"].Type != "integer" {
		t.Errorf("property a = %+v", schema.Properties["a"])
	}
	if schema.Properties["a"].Description != "first operand" {
		t.Errorf("property a description = %q", schema.Properties["a"].Description)
	}
	if schema.Properties["tags"].Type != "array" {
		t.Errorf("property tags = %+v", schema.Properties["tags"])
	}
	required := map[string]bool{}
	for _, r := range schema.Required {
		required[r] = true
	}
	if !required["a"] || !required["b"] || required["tags"] {
		t.Errorf("required = %v", schema.Required)
	}
	if schema.AdditionalProperties {
		t.Error("additionalProperties should default to false")
	}
}

func TestNewToolDecodesArguments(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[addArgs]) error {
		if r.Args().A+r.Args().B != 5 {
			t.Errorf("args = %+v", r.Args())
		}
		return w.AppendText("done")
	})

	res, err := tool.Handler(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "add",
		Arguments: []byte(`{"a":2,"b":3}`),
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if res.IsError || res.Content[0].Text != "done" {
		t.Fatalf("result = %+v", res)
	}
}

func TestNewToolRejectsUnknownFields(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[addArgs]) error {
		return w.AppendText("done")
	})

	res, err := tool.Handler(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "add",
		Arguments: []byte(`{"a":1,"b":2,"surprise":true}`),
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if !res.IsError {
		t.Fatalf("unknown field accepted: %+v", res)
	}
}

func TestNewToolAllowsUnknownFieldsWhenOptedIn(t *testing.T) {
	tool := NewTool("add", func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[addArgs]) error {
		return w.AppendText("done")
	}, WithToolAllowAdditionalProperties(true))

	res, err := tool.Handler(context.Background(), nil, &mcp.CallToolRequestReceived{
		Name:      "add",
		Arguments: []byte(`{"a":1,"surprise":true}`),
	})
	if err != nil {
		t.Fatalf("Handler: %v", err)
	}
	if res.IsError {
		t.Fatalf("opted-in unknown field rejected: %+v", res)
	}
	if !tool.Descriptor.InputSchema.AdditionalProperties {
		t.Error("schema does not advertise additionalProperties")
	}
}

func TestToolResponseWriterFinalization(t *testing.T) {
	w := newToolResponseWriter(context.Background())

	if err := w.AppendText("one"); err != nil {
		t.Fatalf("AppendText: %v", err)
	}
	w.SetMeta("key", "value")
	res := w.Result()
	if len(res.Content) != 1 || res.Content[0].Text != "one" {
		t.Fatalf("result = %+v", res)
	}
	if res.Meta["key"] != "value" {
		t.Errorf("meta = %v", res.Meta)
	}

	if err := w.AppendText("two"); !errors.Is(err, ErrFinalized) {
		t.Fatalf("write after Result = %v, want ErrFinalized", err)
	}
}

func TestToolResponseWriterHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := newToolResponseWriter(ctx)

	if err := w.AppendText("too late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("AppendText with canceled ctx = %v, want context.Canceled", err)
	}
}
