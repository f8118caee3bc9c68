// Package mock provides test doubles for sheetgate's external collaborators.
//
// OAuthServer is a small OAuth 2.1 identity provider bound to a loopback
// port. It implements the authorization_code and refresh_token grants with
// S256 PKCE verification and can simulate the failures the token lifecycle
// must survive: a revoked grant (invalid_grant), a provider outage (503) and
// slow responses.
//
// MockClock drives time-dependent behavior (state TTLs, rate-limit windows,
// token expiry) without sleeping. Pass the same MockClock to the gateway and
// the provider so both agree on "now".
package mock
