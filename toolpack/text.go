package toolpack

import (
	"context"
	"fmt"
	"time"

	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/mcpservice"
	"github.com/protocolkit/mcpd/sessions"
)

type greetArgs struct {
	Name string `json:"name" jsonschema:"description=Name to include in the greeting"`
}

type countArgs struct {
	Number int `json:"number" jsonschema:"description=How many progress notifications to emit"`
}

// TextPack returns the default demonstration tools. interval spaces the
// count tool's notifications; zero emits them back to back.
func TextPack(interval time.Duration) []mcpservice.StaticTool {
	greet := mcpservice.NewTool("greet", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[greetArgs]) error {
		name := r.Args().Name
		if name == "" {
			name = "world"
		}
		return w.AppendText(fmt.Sprintf("Hello, %s!", name))
	}, mcpservice.WithToolDescription("Greets the caller by name."))

	count := mcpservice.NewTool("count", func(ctx context.Context, session *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[countArgs]) error {
		n := r.Args().Number
		if n < 0 {
			w.SetError(true)
			return w.AppendText("number must not be negative")
		}

		// Each step is announced on the session's notification stream before
		// the call's own response is written. Without a subscriber the
		// announcements vanish; the call still succeeds.
		for i := 1; i <= n; i++ {
			if i > 1 && interval > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
			mcpservice.NotifySession(session, mcp.LoggingLevelInfo, "count", fmt.Sprintf("%d/%d", i, n))
		}
		return w.AppendText(fmt.Sprintf("Counted to %d.", n))
	}, mcpservice.WithToolDescription("Counts to a number, announcing each step as a notification."))

	return []mcpservice.StaticTool{greet, count}
}
