package sessions

import (
	"errors"
	"sync"
	"time"

	"github.com/protocolkit/mcpd/internal/jsonrpc"
	"github.com/protocolkit/mcpd/mcp"
)

// ErrAlreadySubscribed indicates a second concurrent subscriber attempted to
// attach to a session whose notification stream is already claimed.
var ErrAlreadySubscribed = errors.New("session already has an active subscriber")

// ErrSessionClosed indicates an operation against a terminated session.
var ErrSessionClosed = errors.New("session closed")

// subscriberBuffer bounds how many notifications may queue while the
// subscriber's connection drains. Overflow drops the notification, matching
// the fire-and-forget contract.
const subscriberBuffer = 32

// Session is the per-connection state created by a successful initialize.
// All methods are safe for concurrent use.
type Session struct {
	id              string
	clientID        string
	protocolVersion string
	clientInfo      mcp.ImplementationInfo
	createdAt       time.Time

	mu         sync.Mutex
	level      mcp.LoggingLevel
	subscriber chan *jsonrpc.Request
	closed     bool
}

func (s *Session) ID() string                          { return s.id }
func (s *Session) ClientID() string                    { return s.clientID }
func (s *Session) ProtocolVersion() string             { return s.protocolVersion }
func (s *Session) ClientInfo() mcp.ImplementationInfo  { return s.clientInfo }
func (s *Session) CreatedAt() time.Time                { return s.createdAt }

// LogLevel returns the minimum logging level the client asked for.
func (s *Session) LogLevel() mcp.LoggingLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetLogLevel records the client's requested minimum logging level.
func (s *Session) SetLogLevel(level mcp.LoggingLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
}

// HasActiveSubscriber reports whether a notification stream is attached.
// Callers use it to decide whether emitted notifications will be observed or
// silently dropped.
func (s *Session) HasActiveSubscriber() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriber != nil
}

// Subscribe claims the session's single notification stream. It returns the
// channel notifications arrive on and a release function the subscriber must
// call when its connection ends. The channel is closed when the session is
// terminated.
func (s *Session) Subscribe() (<-chan *jsonrpc.Request, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, ErrSessionClosed
	}
	if s.subscriber != nil {
		return nil, nil, ErrAlreadySubscribed
	}

	ch := make(chan *jsonrpc.Request, subscriberBuffer)
	s.subscriber = ch

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subscriber == ch {
			s.subscriber = nil
		}
	}
	return ch, release, nil
}

// Publish delivers a notification to the active subscriber, if any. The send
// never blocks: without a subscriber, or with a full buffer, the notification
// is dropped. It reports whether the notification was handed off.
func (s *Session) Publish(notification *jsonrpc.Request) bool {
	s.mu.Lock()
	ch := s.subscriber
	closed := s.closed
	s.mu.Unlock()

	if closed || ch == nil {
		return false
	}
	select {
	case ch <- notification:
		return true
	default:
		return false
	}
}

// close terminates the session, ending any attached stream. Idempotent.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.subscriber != nil {
		close(s.subscriber)
		s.subscriber = nil
	}
}
