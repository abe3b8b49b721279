// Package auth verifies bearer tokens presented to the MCP endpoint.
//
// Two verification strategies are provided: RFC 7662 remote introspection and
// local RFC 9068 JWT validation against the issuer's JWKS. Both produce the
// same Result so the HTTP layer does not care which one is configured.
package auth
