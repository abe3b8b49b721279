package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTokenExpired indicates the token verified but its expiry has passed.
// It wraps ErrUnauthorized so callers checking the broader class still match.
var ErrTokenExpired = errors.New("token expired")

// Result describes an authenticated principal.
type Result struct {
	// ClientID identifies the OAuth client (or subject, when the token
	// carries no client_id) the token was issued to.
	ClientID string
	// Scopes are the space-delimited scope values granted to the token.
	Scopes []string
	// ExpiresAt is the token expiry. The zero time means the verifier did
	// not learn an expiry; expiry is then not re-checked per request.
	ExpiresAt time.Time
}

// Expired reports whether the result's expiry, if known, has passed. Expiry
// is compared on every request rather than only at verification time so a
// long-lived connection cannot outlive its token.
func (r *Result) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// HasScope reports whether the given scope was granted.
func (r *Result) HasScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Verifier validates bearer tokens. Implementations return ErrUnauthorized
// (possibly wrapped) for any token that must be refused.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Result, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, token string) (*Result, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (*Result, error) {
	return f(ctx, token)
}

// Insecure returns a verifier that accepts every request, including requests
// with no token at all, and reports a synthetic principal. It exists for
// local development; never deploy it.
func Insecure() Verifier {
	return VerifierFunc(func(ctx context.Context, token string) (*Result, error) {
		return &Result{ClientID: "insecure-local-client"}, nil
	})
}
