// Package authserver implements a compact OAuth 2.0 authorization server for
// demonstrations and tests: dynamic client registration (RFC 7591), the
// authorization code grant with mandatory PKCE (RFC 7636, S256 only), token
// issuance in opaque or JWT form, and token introspection (RFC 7662).
//
// It deliberately has no end-user accounts: authorization requests are
// auto-approved, which is exactly as much authorization server as a protocol
// demo needs and not an inch more suitable for production.
package authserver
