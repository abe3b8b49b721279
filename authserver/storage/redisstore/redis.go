// Package redisstore provides a Redis-backed implementation of the
// authorization server's storage interface. Codes and tokens carry their
// expiry as a key TTL so Redis reclaims them without a sweeper.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/protocolkit/mcpd/authserver/storage"
)

const (
	clientKeyPrefix = "authd:client:"
	codeKeyPrefix   = "authd:code:"
	tokenKeyPrefix  = "authd:token:"
)

// Store is a Redis-backed storage.Store.
type Store struct {
	client *redis.Client
}

var _ storage.Store = (*Store)(nil)

// New connects to the Redis instance at addr and verifies the connection.
func New(ctx context.Context, addr string) (*Store, error) {
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{client: cl}, nil
}

func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	b, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	// Client registrations have no expiry.
	return s.client.Set(ctx, clientKeyPrefix+client.ClientID, b, 0).Err()
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	b, err := s.client.Get(ctx, clientKeyPrefix+clientID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var client storage.Client
	if err := json.Unmarshal(b, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	b, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}
	ttl := time.Until(code.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}
	return s.client.Set(ctx, codeKeyPrefix+code.Code, b, ttl).Err()
}

// CompareAndDeleteAuthorizationCode redeems a code with GETDEL, which is
// atomic server-side: concurrent redemptions race for a single winner.
func (s *Store) CompareAndDeleteAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	b, err := s.client.GetDel(ctx, codeKeyPrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var authCode storage.AuthorizationCode
	if err := json.Unmarshal(b, &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	return &authCode, nil
}

func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	b, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}
	return s.client.Set(ctx, tokenKeyPrefix+token.Token, b, ttl).Err()
}

func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	b, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	var at storage.AccessToken
	if err := json.Unmarshal(b, &at); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}
	return &at, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
