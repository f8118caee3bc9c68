// Package server provides the HTTP surface of sheetgate.
//
// It mounts the oauth.Handler routes next to a health endpoint and the
// Prometheus metrics endpoint, and runs them behind a request-id middleware:
//
//	GET    /health            liveness, plus principals awaiting sign-in
//	GET    /metrics           Prometheus exposition (when a Gatherer is set)
//	GET    /oauth/authorize   start an authorization
//	GET    /oauth/callback    upstream redirect target
//	POST   /oauth/token       redeem a downstream code
//	DELETE /oauth/token       revoke a principal's credential
//	GET    /oauth/status      credential introspection
//
// # TLS/HTTPS Requirements
//
// Production deployments MUST be reached over HTTPS. ValidatePublicURL
// rejects plain HTTP for anything but loopback addresses, since the callback
// carries authorization codes. TLS is expected to terminate in front of the
// process (ingress or load balancer).
//
// # Rate Limiting
//
// Authorization attempts are limited per client and address inside the
// oauth package. The callback and token endpoints should additionally be
// protected at the infrastructure level.
package server
