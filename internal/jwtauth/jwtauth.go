package jwtauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// Config controls validation behavior for JWT access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences contains the primary audience (index 0) followed by
	// any additional accepted audiences.
	ExpectedAudiences []string
	// AllowedAlgs restricts the accepted signing algorithms. Only asymmetric
	// algorithms are permitted; symmetric entries are rejected at construction.
	AllowedAlgs []string
	Leeway      time.Duration
	// JWKSURL points directly at the signing key set. When empty the issuer's
	// OIDC discovery document supplies it.
	JWKSURL string
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256", "ES256"},
		Leeway:      60 * time.Second,
	}
}

// TokenInfo is the validated claims carrier handed back to callers.
type TokenInfo struct {
	Subject   string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	Claims    map[string]any
}

// Authenticator validates access tokens. Implementations MUST perform
// signature, issuer, audience and time validations.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (*TokenInfo, error)
}

// ErrUnauthorized indicates that the access token failed validation (e.g.
// signature, issuer, audience, exp) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

type jwtAuthenticator struct {
	cfg     *Config
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*jwtAuthenticator)(nil)

// New constructs an authenticator that validates RFC 9068 JWT access tokens.
// When cfg.JWKSURL is set the key set is fetched from it directly; otherwise
// OIDC discovery against cfg.Issuer locates jwks_uri. JWKS keys are
// auto-refreshed.
func New(ctx context.Context, cfg *Config) (*jwtAuthenticator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.ExpectedAudiences) == 0 {
		return nil, errors.New("at least one expected audience required")
	}
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{"RS256", "ES256"}
	}
	for _, alg := range cfg.AllowedAlgs {
		if strings.HasPrefix(alg, "HS") || alg == "none" {
			return nil, fmt.Errorf("symmetric or unsigned alg not permitted: %s", alg)
		}
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = 60 * time.Second
	}

	jwksURL := cfg.JWKSURL
	if jwksURL == "" {
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery failed: %w", err)
		}
		var meta struct {
			JwksURI string `json:"jwks_uri"`
		}
		if err := provider.Claims(&meta); err != nil {
			return nil, fmt.Errorf("invalid discovery metadata: %w", err)
		}
		if meta.JwksURI == "" {
			return nil, errors.New("discovery incomplete: missing jwks_uri")
		}
		jwksURL = meta.JwksURI
	}

	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}

	return &jwtAuthenticator{
		cfg: cfg,
		keyfunc: func(t *jwt.Token) (any, error) {
			alg := t.Method.Alg()
			allowed := false
			for _, a := range cfg.AllowedAlgs {
				if alg == a {
					allowed = true
					break
				}
			}
			if !allowed {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

func (a *jwtAuthenticator) CheckAuthentication(ctx context.Context, tok string) (*TokenInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	// exp is mandatory here even though introspection-based verification
	// tolerates its absence: a self-contained token with no expiry cannot be
	// revoked, so it never becomes valid.
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.cfg.Issuer),
		jwt.WithLeeway(a.cfg.Leeway),
	}
	parser := jwt.NewParser(opts...)

	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if !audIntersects(claims["aud"], a.cfg.ExpectedAudiences) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}

	sub, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)
	if clientID == "" {
		clientID, _ = claims["azp"].(string)
	}
	if clientID == "" {
		clientID = sub
	}
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing sub and client_id", ErrUnauthorized)
	}

	var expiresAt time.Time
	if expf, ok := claims["exp"].(float64); ok {
		expiresAt = time.Unix(int64(expf), 0)
	}

	scopeStr, _ := claims["scope"].(string)

	return &TokenInfo{
		Subject:   sub,
		ClientID:  clientID,
		Scopes:    strings.Fields(scopeStr),
		ExpiresAt: expiresAt,
		Claims:    claims,
	}, nil
}

func audIntersects(aud any, wants []string) bool {
	wantSet := map[string]struct{}{}
	for _, w := range wants {
		wantSet[w] = struct{}{}
	}
	switch v := aud.(type) {
	case string:
		_, ok := wantSet[v]
		return ok
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				if _, ok2 := wantSet[s]; ok2 {
					return true
				}
			}
		}
	case []string:
		for _, s := range v {
			if _, ok := wantSet[s]; ok {
				return true
			}
		}
	}
	return false
}
