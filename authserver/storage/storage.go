// Package storage defines the persistence interfaces for the authorization
// server: registered clients, single-use authorization codes, and issued
// access tokens. Backends include in-memory and Redis implementations.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested record does not exist (or, for codes,
// was already redeemed).
var ErrNotFound = errors.New("storage: not found")

// Client represents a registered OAuth client.
type Client struct {
	ClientID                string    `json:"client_id"`
	ClientSecretHash        string    `json:"client_secret_hash,omitempty"` // bcrypt hash
	RedirectURIs            []string  `json:"redirect_uris"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	ClientName              string    `json:"client_name,omitempty"`
	Scope                   string    `json:"scope,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// Public reports whether the client authenticates with no credentials.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == "none"
}

// AuthorizationCode represents an issued, not-yet-redeemed authorization
// code together with everything the token endpoint must re-verify.
type AuthorizationCode struct {
	Code                string    `json:"code"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scope               string    `json:"scope,omitempty"`
	CodeChallenge       string    `json:"code_challenge"`
	CodeChallengeMethod string    `json:"code_challenge_method"`
	Resource            string    `json:"resource,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// AccessToken represents an issued bearer token.
type AccessToken struct {
	Token     string    `json:"token"`
	ClientID  string    `json:"client_id"`
	Scope     string    `json:"scope,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store is the combined persistence surface of the authorization server.
// All methods accept context.Context for cancellation.
type Store interface {
	// SaveClient persists a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID. Returns ErrNotFound when absent.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// SaveAuthorizationCode persists an issued code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// CompareAndDeleteAuthorizationCode atomically retrieves and deletes a
	// code. The code is consumed even if the caller's subsequent checks
	// fail, so a second redemption always observes ErrNotFound. This
	// atomicity is what makes codes single-use under concurrent redemption.
	CompareAndDeleteAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// SaveAccessToken persists an issued token.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves a token record. Returns ErrNotFound when
	// absent. Expiry is the caller's concern.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// Close releases backend resources.
	Close() error
}
