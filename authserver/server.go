package authserver

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/protocolkit/mcpd/authserver/storage"
)

const (
	// PKCE constants per RFC 7636.
	PKCEMethodS256        = "S256"
	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128

	DefaultCodeLifetime  = 5 * time.Minute
	DefaultTokenLifetime = time.Hour
)

// TokenFormat selects how access tokens are minted.
type TokenFormat string

const (
	// TokenFormatOpaque issues random strings resolvable only through
	// introspection.
	TokenFormatOpaque TokenFormat = "opaque"
	// TokenFormatJWT issues RS256-signed RFC 9068 JWT access tokens.
	TokenFormatJWT TokenFormat = "jwt"
)

// Config configures the authorization server's issuance policy.
type Config struct {
	// Issuer is the server's externally visible base URL.
	Issuer string
	// Audience is the default aud claim for issued tokens when the client
	// names no resource.
	Audience string
	// SupportedScopes limits grantable scopes. Empty allows any.
	SupportedScopes []string
	CodeLifetime    time.Duration
	TokenLifetime   time.Duration
	TokenFormat     TokenFormat
}

// Server owns the OAuth flows. HTTP framing lives in Handler.
type Server struct {
	cfg     Config
	store   storage.Store
	log     *slog.Logger
	signer  *TokenSigner
	metrics *Metrics
}

// NewServer constructs a Server. In JWT mode a fresh RSA signing key is
// generated at startup; restarting the process invalidates outstanding JWTs,
// which is acceptable for a demonstration issuer.
func NewServer(cfg Config, store storage.Store, log *slog.Logger) (*Server, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.CodeLifetime <= 0 {
		cfg.CodeLifetime = DefaultCodeLifetime
	}
	if cfg.TokenLifetime <= 0 {
		cfg.TokenLifetime = DefaultTokenLifetime
	}
	if cfg.TokenFormat == "" {
		cfg.TokenFormat = TokenFormatOpaque
	}

	s := &Server{cfg: cfg, store: store, log: log, metrics: NewMetrics()}

	if cfg.TokenFormat == TokenFormatJWT {
		signer, err := NewTokenSigner()
		if err != nil {
			return nil, fmt.Errorf("failed to create token signer: %w", err)
		}
		s.signer = signer
	}
	return s, nil
}

// Signer returns the JWT signer, or nil in opaque mode.
func (s *Server) Signer() *TokenSigner { return s.signer }

// Config returns the server's issuance configuration.
func (s *Server) Config() Config { return s.cfg }

// --- Client registration ---

// RegistrationRequest is the RFC 7591 registration document subset we accept.
type RegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// RegisterClient validates and persists a new client. Every call mints a
// fresh client_id; registering the same metadata twice yields two distinct
// clients. A secret is generated unless the client opted into
// token_endpoint_auth_method "none".
func (s *Server) RegisterClient(ctx context.Context, req *RegistrationRequest) (*storage.Client, string, *OAuthError) {
	if len(req.RedirectURIs) == 0 {
		return nil, "", ErrInvalidRequest("redirect_uris is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, "", NewOAuthError(ErrorCodeInvalidRedirectURI, err.Error(), 400)
		}
	}

	authMethod := req.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = "client_secret_basic"
	}
	switch authMethod {
	case "none", "client_secret_basic", "client_secret_post":
	default:
		return nil, "", ErrInvalidRequest("unsupported token_endpoint_auth_method: " + authMethod)
	}

	grantTypes := req.GrantTypes
	if len(grantTypes) == 0 {
		grantTypes = []string{"authorization_code"}
	}
	responseTypes := req.ResponseTypes
	if len(responseTypes) == 0 {
		responseTypes = []string{"code"}
	}

	client := &storage.Client{
		ClientID:                uuid.NewString(),
		RedirectURIs:            append([]string(nil), req.RedirectURIs...),
		TokenEndpointAuthMethod: authMethod,
		GrantTypes:              grantTypes,
		ResponseTypes:           responseTypes,
		ClientName:              req.ClientName,
		Scope:                   req.Scope,
		CreatedAt:               time.Now(),
	}

	var clientSecret string
	if authMethod != "none" {
		clientSecret = generateRandomToken()
		hash, err := bcrypt.GenerateFromPassword([]byte(clientSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", ErrServerError("failed to hash client secret")
		}
		client.ClientSecretHash = string(hash)
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		s.log.Error("client.save.fail", slog.String("err", err.Error()))
		return nil, "", ErrServerError("failed to persist client")
	}

	s.metrics.ClientRegistered(ctx)
	s.log.Info("client.register",
		slog.String("client_id", client.ClientID),
		slog.String("client_name", client.ClientName),
		slog.String("token_endpoint_auth_method", authMethod))
	return client, clientSecret, nil
}

// AuthenticateClient resolves and authenticates a client for the token and
// introspection endpoints.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, *OAuthError) {
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidClient("unknown client")
		}
		s.log.Error("client.load.fail", slog.String("err", err.Error()))
		return nil, ErrServerError("failed to load client")
	}

	if client.Public() {
		if clientSecret != "" {
			return nil, ErrInvalidClient("public client must not present a secret")
		}
		return client, nil
	}

	if clientSecret == "" {
		return nil, ErrInvalidClient("client secret required")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(client.ClientSecretHash), []byte(clientSecret)); err != nil {
		return nil, ErrInvalidClient("invalid client credentials")
	}
	return client, nil
}

// --- Authorization ---

// AuthorizeParams carries the /authorize query parameters the server acts on.
type AuthorizeParams struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Resource            string
}

// CheckAuthorizeRequest validates the parts of the authorization request
// that must NEVER produce an error redirect: the client identity and the
// redirect target. A failure here means the redirect URI cannot be trusted.
func (s *Server) CheckAuthorizeRequest(ctx context.Context, p *AuthorizeParams) (*storage.Client, *OAuthError) {
	if p.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	client, err := s.store.GetClient(ctx, p.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRequest("unknown client")
		}
		s.log.Error("client.load.fail", slog.String("err", err.Error()))
		return nil, ErrServerError("failed to load client")
	}
	if p.RedirectURI == "" {
		return nil, ErrInvalidRequest("redirect_uri is required")
	}
	if !redirectURIRegistered(client, p.RedirectURI) {
		return nil, NewOAuthError(ErrorCodeInvalidRedirectURI, "redirect_uri is not registered for this client", 400)
	}
	return client, nil
}

// IssueAuthorizationCode validates the remaining authorization parameters
// and mints a single-use code. Errors from this stage are safe to deliver
// via error redirect since the redirect URI is already verified.
func (s *Server) IssueAuthorizationCode(ctx context.Context, client *storage.Client, p *AuthorizeParams) (*storage.AuthorizationCode, *OAuthError) {
	if p.ResponseType != "code" {
		return nil, ErrUnsupportedResponseType("only response_type=code is supported")
	}
	if p.CodeChallenge == "" {
		return nil, ErrInvalidRequest("code_challenge is required")
	}
	// S256 only. The plain method downgrades PKCE to a bearer secret in the
	// URL and is refused outright.
	if p.CodeChallengeMethod != PKCEMethodS256 {
		return nil, ErrInvalidRequest("code_challenge_method must be S256")
	}
	if oe := s.checkScope(client, p.Scope); oe != nil {
		return nil, oe
	}

	code := &storage.AuthorizationCode{
		Code:                generateRandomToken(),
		ClientID:            client.ClientID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		Resource:            p.Resource,
		CreatedAt:           time.Now(),
		ExpiresAt:           time.Now().Add(s.cfg.CodeLifetime),
	}
	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		s.log.Error("code.save.fail", slog.String("err", err.Error()))
		return nil, ErrServerError("failed to persist authorization code")
	}

	s.metrics.CodeIssued(ctx)
	s.log.Info("code.issue", slog.String("client_id", client.ClientID))
	return code, nil
}

// --- Token ---

// TokenRequest carries the /token form parameters.
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	CodeVerifier string
	Resource     string
	ClientID     string
	ClientSecret string
}

// TokenResponse is the successful token endpoint response document.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}

// ExchangeCode redeems an authorization code for an access token. The code
// is consumed before any further validation: once presented, it is spent,
// and a retry after a failed exchange fails with invalid_grant.
func (s *Server) ExchangeCode(ctx context.Context, req *TokenRequest) (*TokenResponse, *OAuthError) {
	if req.GrantType != "authorization_code" {
		return nil, ErrUnsupportedGrantType("only authorization_code is supported")
	}

	client, oe := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret)
	if oe != nil {
		return nil, oe
	}

	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	authCode, err := s.store.CompareAndDeleteAuthorizationCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidGrant("authorization code is invalid or already used")
		}
		s.log.Error("code.redeem.fail", slog.String("err", err.Error()))
		return nil, ErrServerError("failed to redeem authorization code")
	}

	if time.Now().After(authCode.ExpiresAt) {
		return nil, ErrInvalidGrant("authorization code expired")
	}
	if authCode.ClientID != client.ClientID {
		return nil, ErrInvalidGrant("authorization code was issued to a different client")
	}
	// With PKCE mandatory the code is already bound to the caller, so
	// redirect_uri is only checked when the client chooses to send it.
	if req.RedirectURI != "" && req.RedirectURI != authCode.RedirectURI {
		return nil, ErrInvalidGrant("redirect_uri does not match the authorization request")
	}
	if req.Resource != "" && authCode.Resource != "" && req.Resource != authCode.Resource {
		return nil, ErrInvalidGrant("resource does not match the authorization request")
	}
	if oe := validatePKCE(authCode.CodeChallenge, authCode.CodeChallengeMethod, req.CodeVerifier); oe != nil {
		return nil, oe
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenLifetime)
	audience := authCode.Resource
	if audience == "" {
		audience = s.cfg.Audience
	}

	var tokenString string
	if s.signer != nil {
		tokenString, err = s.signer.Sign(s.cfg.Issuer, client.ClientID, audience, authCode.Scope, now, expiresAt)
		if err != nil {
			s.log.Error("token.sign.fail", slog.String("err", err.Error()))
			return nil, ErrServerError("failed to sign access token")
		}
	} else {
		tokenString = generateRandomToken()
	}

	record := &storage.AccessToken{
		Token:     tokenString,
		ClientID:  client.ClientID,
		Scope:     authCode.Scope,
		Resource:  audience,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}
	if err := s.store.SaveAccessToken(ctx, record); err != nil {
		s.log.Error("token.save.fail", slog.String("err", err.Error()))
		return nil, ErrServerError("failed to persist access token")
	}

	s.metrics.TokenIssued(ctx)
	s.log.Info("token.issue", slog.String("client_id", client.ClientID))
	return &TokenResponse{
		AccessToken: tokenString,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.TokenLifetime.Seconds()),
		Scope:       authCode.Scope,
	}, nil
}

// --- Introspection ---

// IntrospectionResponse is the RFC 7662 response document. For inactive
// tokens every field other than active is omitted.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
	Sub       string `json:"sub,omitempty"`
	Aud       string `json:"aud,omitempty"`
	Iss       string `json:"iss,omitempty"`
}

// Introspect reports a token's state. An unknown, malformed, or expired
// token is simply inactive; introspection never leaks why.
func (s *Server) Introspect(ctx context.Context, token string) *IntrospectionResponse {
	inactive := &IntrospectionResponse{Active: false}
	if token == "" {
		return inactive
	}

	record, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Error("token.load.fail", slog.String("err", err.Error()))
		}
		s.metrics.Introspection(ctx, false)
		return inactive
	}
	if time.Now().After(record.ExpiresAt) {
		s.metrics.Introspection(ctx, false)
		return inactive
	}

	s.metrics.Introspection(ctx, true)
	return &IntrospectionResponse{
		Active:    true,
		Scope:     record.Scope,
		ClientID:  record.ClientID,
		TokenType: "Bearer",
		Exp:       record.ExpiresAt.Unix(),
		Iat:       record.CreatedAt.Unix(),
		Sub:       record.ClientID,
		Aud:       record.Resource,
		Iss:       s.cfg.Issuer,
	}
}

// --- Helpers ---

// checkScope verifies every requested scope against the server-wide
// supported set and, when the client registered with a scope list, against
// that client's allowed set.
func (s *Server) checkScope(client *storage.Client, scope string) *OAuthError {
	if scope == "" {
		return nil
	}
	if len(s.cfg.SupportedScopes) > 0 {
		supported := map[string]struct{}{}
		for _, sc := range s.cfg.SupportedScopes {
			supported[sc] = struct{}{}
		}
		for _, sc := range strings.Fields(scope) {
			if _, ok := supported[sc]; !ok {
				return ErrInvalidScope("unsupported scope: " + sc)
			}
		}
	}
	if client.Scope != "" {
		allowed := map[string]struct{}{}
		for _, sc := range strings.Fields(client.Scope) {
			allowed[sc] = struct{}{}
		}
		for _, sc := range strings.Fields(scope) {
			if _, ok := allowed[sc]; !ok {
				return ErrInvalidScope("scope not allowed for this client: " + sc)
			}
		}
	}
	return nil
}

// validatePKCE verifies a code_verifier against the challenge captured at
// authorization time. Comparison is constant-time.
func validatePKCE(challenge, method, verifier string) *OAuthError {
	if verifier == "" {
		return ErrInvalidRequest("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return ErrInvalidRequest(fmt.Sprintf("code_verifier must be %d-%d characters", MinCodeVerifierLength, MaxCodeVerifierLength))
	}
	for _, ch := range verifier {
		isValid := (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~'
		if !isValid {
			return ErrInvalidRequest("code_verifier contains invalid characters")
		}
	}
	if method != PKCEMethodS256 {
		return ErrInvalidGrant("unsupported code_challenge_method")
	}

	hash := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(hash[:])
	if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
		return ErrInvalidGrant("code_verifier does not match code_challenge")
	}
	return nil
}

func redirectURIRegistered(client *storage.Client, redirectURI string) bool {
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

func validateRedirectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("invalid redirect URI %q: %w", uri, err)
	}
	if !u.IsAbs() {
		return fmt.Errorf("redirect URI %q must be absolute", uri)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", uri)
	}
	return nil
}

// generateRandomToken returns 32 bytes of cryptographic randomness in
// unpadded base64url form.
func generateRandomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure means the process cannot safely mint secrets.
		panic(fmt.Sprintf("crypto/rand unavailable: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
