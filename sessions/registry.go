package sessions

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/protocolkit/mcpd/mcp"
)

// ErrSessionNotFound indicates the presented Mcp-Session-Id matches no live
// session.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists indicates the session ID collided with a live session.
// The initialize attempt is refused rather than silently replacing the
// existing session's state.
var ErrSessionExists = errors.New("session id already in use")

// Registry is the in-process session table.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// Create mints a session for an initialized client and returns it. A
// non-empty suggestedID is honored so a restarting client can resume under
// its previous ID; otherwise an opaque UUID is generated. A collision with
// a live session fails with ErrSessionExists.
func (r *Registry) Create(suggestedID, clientID, protocolVersion string, clientInfo mcp.ImplementationInfo) (*Session, error) {
	id := suggestedID
	if id == "" {
		id = uuid.NewString()
	}
	sess := &Session{
		id:              id,
		clientID:        clientID,
		protocolVersion: protocolVersion,
		clientInfo:      clientInfo,
		createdAt:       time.Now(),
		level:           mcp.LoggingLevelInfo,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[sess.id]; exists {
		return nil, ErrSessionExists
	}
	r.sessions[sess.id] = sess

	r.log.Debug("session.create", slog.String("session_id", sess.id), slog.String("client_id", clientID))
	return sess, nil
}

// Get looks up a live session by ID.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Delete terminates and removes a session. It returns ErrSessionNotFound if
// no such session is live.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	sess.close()
	r.log.Debug("session.delete", slog.String("session_id", id))
	return nil
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close terminates every live session. Used during server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
