package authserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/protocolkit/mcpd/internal/wellknown"
)

// HandlerOption customizes the HTTP handler.
type HandlerOption func(*Handler)

// WithRegistrationRateLimit caps dynamic registrations per source IP per
// minute. Zero disables limiting.
func WithRegistrationRateLimit(perMinute int) HandlerOption {
	return func(h *Handler) {
		if perMinute > 0 {
			h.registrationLimiter = newRateLimiter(perMinute, perMinute)
		}
	}
}

// Handler exposes the authorization server over HTTP.
type Handler struct {
	mux                 *http.ServeMux
	srv                 *Server
	log                 *slog.Logger
	registrationLimiter *rateLimiter
}

// NewHandler wires the OAuth endpoints and the discovery documents.
func NewHandler(srv *Server, log *slog.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		mux: http.NewServeMux(),
		srv: srv,
		log: log,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux.HandleFunc("POST /register", h.handleRegister)
	h.mux.HandleFunc("GET /authorize", h.handleAuthorize)
	h.mux.HandleFunc("POST /authorize", h.handleAuthorize)
	h.mux.HandleFunc("POST /token", h.handleToken)
	h.mux.HandleFunc("POST /introspect", h.handleIntrospect)
	h.mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleMetadata)
	h.mux.HandleFunc("GET /.well-known/openid-configuration", h.handleMetadata)
	h.mux.HandleFunc("GET /.well-known/jwks.json", h.handleJWKS)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- Registration ---

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if h.registrationLimiter != nil && !h.registrationLimiter.Allow(r) {
		h.writeError(w, ErrRateLimitExceeded("too many registration requests"))
		return
	}

	var req RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, ErrInvalidRequest("request body must be a JSON client metadata document"))
		return
	}

	client, secret, oe := h.srv.RegisterClient(r.Context(), &req)
	if oe != nil {
		h.writeError(w, oe)
		return
	}

	resp := map[string]any{
		"client_id":                  client.ClientID,
		"redirect_uris":              client.RedirectURIs,
		"token_endpoint_auth_method": client.TokenEndpointAuthMethod,
		"grant_types":                client.GrantTypes,
		"response_types":             client.ResponseTypes,
		"client_id_issued_at":        client.CreatedAt.Unix(),
	}
	if client.ClientName != "" {
		resp["client_name"] = client.ClientName
	}
	if client.Scope != "" {
		resp["scope"] = client.Scope
	}
	if secret != "" {
		resp["client_secret"] = secret
		// Secrets issued here never expire; this is a demonstration server.
		resp["client_secret_expires_at"] = 0
	}

	h.writeJSON(w, http.StatusCreated, resp)
}

// --- Authorization ---

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	// ParseForm merges the query string with a form-encoded POST body, so
	// both request styles land here.
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse request parameters"))
		return
	}
	params := &AuthorizeParams{
		ClientID:            r.Form.Get("client_id"),
		RedirectURI:         r.Form.Get("redirect_uri"),
		ResponseType:        r.Form.Get("response_type"),
		Scope:               r.Form.Get("scope"),
		State:               r.Form.Get("state"),
		CodeChallenge:       r.Form.Get("code_challenge"),
		CodeChallengeMethod: r.Form.Get("code_challenge_method"),
		Resource:            r.Form.Get("resource"),
	}

	// Client identity and redirect target are verified first. Until both
	// check out the redirect URI is attacker-controlled input, so failures
	// here are answered directly and never redirected.
	client, oe := h.srv.CheckAuthorizeRequest(r.Context(), params)
	if oe != nil {
		h.writeError(w, oe)
		return
	}

	code, oe := h.srv.IssueAuthorizationCode(r.Context(), client, params)
	if oe != nil {
		h.redirectError(w, r, params.RedirectURI, params.State, oe)
		return
	}

	redirect, err := url.Parse(params.RedirectURI)
	if err != nil {
		h.writeError(w, ErrServerError("registered redirect URI is not parseable"))
		return
	}
	rq := redirect.Query()
	rq.Set("code", code.Code)
	if params.State != "" {
		rq.Set("state", params.State)
	}
	redirect.RawQuery = rq.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (h *Handler) redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state string, oe *OAuthError) {
	redirect, err := url.Parse(redirectURI)
	if err != nil {
		h.writeError(w, oe)
		return
	}
	rq := redirect.Query()
	rq.Set("error", oe.Code)
	if oe.Description != "" {
		rq.Set("error_description", oe.Description)
	}
	if state != "" {
		rq.Set("state", state)
	}
	redirect.RawQuery = rq.Encode()

	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// --- Token ---

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse form body"))
		return
	}

	req := &TokenRequest{
		GrantType:    r.PostFormValue("grant_type"),
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		Resource:     r.PostFormValue("resource"),
	}
	req.ClientID, req.ClientSecret = h.clientCredentials(r)

	resp, oe := h.srv.ExchangeCode(r.Context(), req)
	if oe != nil {
		h.writeError(w, oe)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	h.writeJSON(w, http.StatusOK, resp)
}

// --- Introspection ---

func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, ErrInvalidRequest("failed to parse form body"))
		return
	}

	// Introspection requires caller authentication; the token's own state
	// never does. An authenticated caller asking about garbage simply
	// hears that the token is inactive.
	clientID, clientSecret := h.clientCredentials(r)
	if _, oe := h.srv.AuthenticateClient(r.Context(), clientID, clientSecret); oe != nil {
		h.writeError(w, oe)
		return
	}

	resp := h.srv.Introspect(r.Context(), r.PostFormValue("token"))
	h.writeJSON(w, http.StatusOK, resp)
}

// --- Discovery ---

func (h *Handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	issuer := h.srv.cfg.Issuer
	doc := wellknown.AuthorizationServerMetadata{
		Issuer:                            issuer,
		AuthorizationEndpoint:             issuer + "/authorize",
		TokenEndpoint:                     issuer + "/token",
		RegistrationEndpoint:              issuer + "/register",
		IntrospectionEndpoint:             issuer + "/introspect",
		ScopesSupported:                   h.srv.cfg.SupportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code"},
		TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_basic", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{PKCEMethodS256},
		SubjectTypesSupported:             []string{"public"},
	}
	if h.srv.signer != nil {
		doc.JwksURI = issuer + "/.well-known/jwks.json"
		doc.IDTokenSigningAlgValuesSupported = []string{"RS256"}
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	h.writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	if h.srv.signer == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.writeJSON(w, http.StatusOK, h.srv.signer.JWKS())
}

// --- Plumbing ---

// clientCredentials extracts client authentication from HTTP Basic (with
// credentials form-urlencoded per RFC 6749 §2.3.1) or from the form body.
func (h *Handler) clientCredentials(r *http.Request) (clientID, clientSecret string) {
	if id, secret, ok := r.BasicAuth(); ok {
		if decoded, err := url.QueryUnescape(id); err == nil {
			id = decoded
		}
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("response.write.fail", slog.String("err", err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, oe *OAuthError) {
	if oe.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="token"`)
	}
	if oe.Status >= 500 {
		h.log.Error("oauth.error", slog.String("code", oe.Code), slog.String("description", oe.Description))
	}
	h.writeJSON(w, oe.Status, map[string]string{
		"error":             oe.Code,
		"error_description": oe.Description,
	})
}
