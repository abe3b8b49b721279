package mcpservice

import (
	"github.com/protocolkit/mcpd/internal/jsonrpc"
	"github.com/protocolkit/mcpd/mcp"
	"github.com/protocolkit/mcpd/sessions"
)

// NotifySession emits a notifications/message to the session's subscriber.
// Delivery is fire-and-forget: notifications below the session's minimum
// level, or sent while no subscriber is attached, are dropped. It reports
// whether the notification was handed off to a subscriber.
func NotifySession(session *sessions.Session, level mcp.LoggingLevel, loggerName string, data any) bool {
	if !level.AtLeast(session.LogLevel()) {
		return false
	}
	note, err := jsonrpc.NewNotification(string(mcp.LoggingMessageNotificationMethod), &mcp.LoggingMessageNotification{
		Level:  level,
		Logger: loggerName,
		Data:   data,
	})
	if err != nil {
		return false
	}
	return session.Publish(note)
}
