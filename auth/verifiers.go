package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/protocolkit/mcpd/internal/introspection"
	"github.com/protocolkit/mcpd/internal/jwtauth"
)

// IntrospectionConfig configures the remote introspection strategy.
type IntrospectionConfig struct {
	// Endpoint is the authorization server's RFC 7662 introspection endpoint.
	Endpoint string
	// ClientID and ClientSecret authenticate this resource server to the
	// introspection endpoint.
	ClientID     string
	ClientSecret string
	// Audience, when set, must appear in the introspection response's aud
	// for the token to be accepted.
	Audience string
	// HTTPClient overrides the default introspection HTTP client.
	HTTPClient *http.Client
}

// NewIntrospectionVerifier builds a Verifier that defers every token decision
// to the authorization server. Any transport failure, non-2xx status, or
// active:false response refuses the token.
func NewIntrospectionVerifier(cfg IntrospectionConfig) (Verifier, error) {
	client, err := introspection.NewClient(cfg.Endpoint, cfg.ClientID, cfg.ClientSecret, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	return VerifierFunc(func(ctx context.Context, token string) (*Result, error) {
		if token == "" {
			return nil, fmt.Errorf("%w: no token presented", ErrUnauthorized)
		}
		resp, err := client.Introspect(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: introspection failed: %v", ErrUnauthorized, err)
		}
		if !resp.Active {
			return nil, fmt.Errorf("%w: token inactive", ErrUnauthorized)
		}
		if cfg.Audience != "" && !audienceContains(resp.Aud, cfg.Audience) {
			return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
		}
		clientID := resp.ClientID
		if clientID == "" {
			clientID = resp.Sub
		}
		return &Result{
			ClientID:  clientID,
			Scopes:    resp.Scopes(),
			ExpiresAt: resp.ExpiresAt(),
		}, nil
	}), nil
}

// JWTConfig configures the local JWT validation strategy.
type JWTConfig struct {
	// Issuer is the expected iss claim. When JWKSURL is empty, OIDC
	// discovery against the issuer locates the key set.
	Issuer  string
	JWKSURL string
	// Audience is the expected aud claim; additional accepted audiences may
	// follow in ExtraAudiences.
	Audience       string
	ExtraAudiences []string
	// AllowedAlgs restricts signing algorithms (asymmetric only). Defaults
	// to RS256 and ES256.
	AllowedAlgs []string
	Leeway      time.Duration
}

// NewJWTVerifier builds a Verifier that validates tokens locally against the
// issuer's JWKS. Tokens without an exp claim are refused.
func NewJWTVerifier(ctx context.Context, cfg JWTConfig) (Verifier, error) {
	jcfg := jwtauth.DefaultConfig()
	jcfg.Issuer = cfg.Issuer
	jcfg.JWKSURL = cfg.JWKSURL
	for _, aud := range append([]string{cfg.Audience}, cfg.ExtraAudiences...) {
		if aud != "" {
			jcfg.ExpectedAudiences = append(jcfg.ExpectedAudiences, aud)
		}
	}
	if len(cfg.AllowedAlgs) > 0 {
		jcfg.AllowedAlgs = cfg.AllowedAlgs
	}
	if cfg.Leeway > 0 {
		jcfg.Leeway = cfg.Leeway
	}

	authenticator, err := jwtauth.New(ctx, jcfg)
	if err != nil {
		return nil, err
	}
	return VerifierFunc(func(ctx context.Context, token string) (*Result, error) {
		info, err := authenticator.CheckAuthentication(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return &Result{
			ClientID:  info.ClientID,
			Scopes:    info.Scopes,
			ExpiresAt: info.ExpiresAt,
		}, nil
	}), nil
}

func audienceContains(aud []string, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
