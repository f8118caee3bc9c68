// Package oauth provides OAuth 2.1 primitives shared by the sheetgate server
// and command line tooling.
//
// # Core Components
//
//   - PKCE: S256 challenge generation and constant-time verification (RFC 7636)
//   - GenerateState: random URL-safe values for nonces and one-time codes
//   - Discoverer: RFC 8414 / OpenID Connect metadata discovery with a TTL cache,
//     used to resolve a custom identity provider's endpoints from its issuer
//
// Only the S256 method is supported. OAuth 2.1 forbids "plain".
package oauth
