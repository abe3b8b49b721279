// Package introspection implements an RFC 7662 token introspection client.
package introspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Audience decodes the aud claim, which may arrive as a single string or an
// array of strings.
type Audience []string

func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*a = Audience(many)
		return nil
	}
	return fmt.Errorf("aud must be a string or array of strings, got: %s", string(data))
}

// Response is the introspection response document.
type Response struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Username  string   `json:"username,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	Exp       int64    `json:"exp,omitempty"`
	Iat       int64    `json:"iat,omitempty"`
	Sub       string   `json:"sub,omitempty"`
	Aud       Audience `json:"aud,omitempty"`
	Iss       string   `json:"iss,omitempty"`
}

// Scopes splits the space-delimited scope string.
func (r *Response) Scopes() []string {
	return strings.Fields(r.Scope)
}

// ExpiresAt returns the exp claim as a time, or the zero time when absent.
func (r *Response) ExpiresAt() time.Time {
	if r.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(r.Exp, 0)
}

// Client posts tokens to a fixed introspection endpoint, authenticating with
// the resource server's own client credentials.
type Client struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

// NewClient constructs an introspection client. httpClient may be nil, in
// which case a client with a 10 second timeout is used.
func NewClient(endpoint, clientID, clientSecret string, httpClient *http.Client) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("introspection endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		endpoint:     endpoint,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
	}, nil
}

// Introspect submits the token and decodes the response. A non-2xx status is
// an error; deciding what an inactive token means is the caller's concern.
func (c *Client) Introspect(ctx context.Context, token string) (*Response, error) {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "access_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.clientID != "" {
		req.SetBasicAuth(url.QueryEscape(c.clientID), url.QueryEscape(c.clientSecret))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little for connection reuse, then fail.
		io.CopyN(io.Discard, resp.Body, 4096)
		return nil, fmt.Errorf("introspection endpoint returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return &out, nil
}
