package authserver

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenSigner mints RS256 JWT access tokens and publishes the matching
// public key as a JWK set. The key pair is generated at construction and
// lives only as long as the process.
type TokenSigner struct {
	key   *rsa.PrivateKey
	keyID string
}

// NewTokenSigner generates a fresh 2048-bit RSA key pair.
func NewTokenSigner() (*TokenSigner, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	return &TokenSigner{key: key, keyID: deriveKeyID(key)}, nil
}

// KeyID returns the kid carried in token headers and the JWK set.
func (ts *TokenSigner) KeyID() string { return ts.keyID }

// PublicKey exposes the verification key, mainly for tests.
func (ts *TokenSigner) PublicKey() *rsa.PublicKey { return &ts.key.PublicKey }

// Sign mints an RFC 9068 access token for the given subject.
func (ts *TokenSigner) Sign(issuer, clientID, audience, scope string, issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.MapClaims{
		"iss":       issuer,
		"sub":       clientID,
		"client_id": clientID,
		"exp":       expiresAt.Unix(),
		"iat":       issuedAt.Unix(),
		"jti":       uuid.NewString(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if scope != "" {
		claims["scope"] = scope
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = ts.keyID
	token.Header["typ"] = "at+jwt"

	signed, err := token.SignedString(ts.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// JWKS returns the public JWK set document for /.well-known/jwks.json.
func (ts *TokenSigner) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &ts.key.PublicKey,
				KeyID:     ts.keyID,
				Algorithm: string(jose.RS256),
				Use:       "sig",
			},
		},
	}
}

// deriveKeyID builds a stable kid from the public modulus so that the
// header and JWK set agree without extra bookkeeping.
func deriveKeyID(key *rsa.PrivateKey) string {
	nBytes := key.PublicKey.N.Bytes()
	sum := sha256.Sum256([]byte(base64.RawURLEncoding.EncodeToString(nBytes)))
	return hex.EncodeToString(sum[:8])
}
