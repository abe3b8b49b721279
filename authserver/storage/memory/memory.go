// Package memory provides an in-memory implementation of the authorization
// server's storage interface. It is suitable for development, testing, and
// single-instance deployments.
package memory

import (
	"context"
	"sync"

	"github.com/protocolkit/mcpd/authserver/storage"
)

// Store is an in-memory storage.Store backed by mutex-guarded maps.
type Store struct {
	mu        sync.RWMutex
	clients   map[string]*storage.Client
	authCodes map[string]*storage.AuthorizationCode
	tokens    map[string]*storage.AccessToken
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		clients:   make(map[string]*storage.Client),
		authCodes: make(map[string]*storage.AuthorizationCode),
		tokens:    make(map[string]*storage.AccessToken),
	}
}

// cloneClient copies the record including its slice fields so neither side
// can mutate the other through a shared backing array.
func cloneClient(client *storage.Client) *storage.Client {
	cp := *client
	cp.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	cp.GrantTypes = append([]string(nil), client.GrantTypes...)
	cp.ResponseTypes = append([]string(nil), client.ResponseTypes...)
	return &cp
}

func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	cp := cloneClient(client)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = cp
	return nil
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// Copies keep callers from mutating the stored record.
	return cloneClient(client), nil
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	cp := *code
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCodes[code.Code] = &cp
	return nil
}

// CompareAndDeleteAuthorizationCode removes and returns the code under a
// single write lock; only one concurrent redemption can succeed.
func (s *Store) CompareAndDeleteAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, storage.ErrNotFound
	}
	delete(s.authCodes, code)
	cp := *authCode
	return &cp, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	cp := *token
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = &cp
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.tokens[token]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *at
	return &cp, nil
}

func (s *Store) Close() error { return nil }
