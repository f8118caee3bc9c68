// Package oauth implements the OAuth 2.1 authorization and token lifecycle
// subsystem of Sheetgate.
//
// Sheetgate sits between downstream clients (spreadsheet add-ons, scripts)
// and an upstream identity provider such as Google. Clients authorize through
// Sheetgate with PKCE; Sheetgate runs its own confidential authorization code
// flow upstream, keeps the resulting credential encrypted at rest and hands
// out valid access tokens on demand.
//
// # Architecture
//
// An authorization attempt moves through these steps:
//
//  1. Client calls /oauth/authorize with client_id, redirect_uri and an S256 code_challenge
//  2. Authorizer checks the rate limit, then the PKCE parameters and the client allow-list
//  3. Authorizer stores a pending record under a random nonce and signs a state token
//  4. Browser is redirected to the identity provider with Sheetgate's own PKCE challenge
//  5. Provider redirects to /oauth/callback; the state is verified and consumed exactly once
//  6. The code is exchanged upstream and the TokenPair is handed to the Manager
//  7. Client receives a one-time downstream code and redeems it at /oauth/token with its verifier
//
// # Components
//
//   - ScopeMode: named scope presets (minimal, standard, full, readonly)
//   - SessionStore: TTL key-value store with atomic Consume (memory or Redis)
//   - RateLimiter: fixed-window attempt counter (memory or Redis)
//   - Authorizer: the authorization flow orchestrator
//   - Upstream: code exchange and refresh against the identity provider
//   - EncryptedTokenStore: AES-256-GCM envelope files, one per principal
//   - Manager: threshold refresh, retry with backoff, reauth tracking
//   - TokenDirWatcher: drops in-memory state when a record file disappears
//   - Handler: the HTTP surface
//
// # Security
//
// ## Token Storage
//
// Each principal's TokenPair is sealed with AES-256-GCM under a fresh IV. The
// principal is bound to the ciphertext as additional authenticated data, so a
// record copied to another principal's file fails authentication. Any
// authentication failure is reported as KindTokenStoreCorrupted and never as
// a missing credential.
//
// ## State
//
// The state parameter is "payload:signature" with an HMAC-SHA256 signature
// checked in constant time before any field is trusted. Replay is prevented by
// consuming the pending record, not by the signature.
//
// ## Logging Security
//
// Access and refresh tokens are never logged. Principals are truncated in log
// output and security-relevant events are emitted through logging.Audit.
package oauth
