package oauth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Clock abstracts time so TTL and expiry logic can be tested without waiting.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return realClock{}
	}
	return c
}

// ClientRegistration is one entry of the static downstream client allow-list.
// Registrations are loaded from configuration and never mutated afterwards.
type ClientRegistration struct {
	ClientID     string
	RedirectURIs []string

	// Public clients prove possession with PKCE alone. Confidential clients
	// must also present Secret when redeeming a code.
	Public bool
	Secret string
}

// AuthorizationRequest is an inbound authorize call. It is validated and
// then folded into a pendingAuthorization stored under the state nonce.
type AuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string

	// ScopeMode optionally overrides the configured mode for this attempt.
	ScopeMode string

	// Principal optionally names the credential the tokens are stored under.
	// When the provider returns a verified identity it must match it.
	Principal string

	// ClientState is the downstream client's own state value, echoed back on redirect.
	ClientState string

	// RemoteAddr keys the per-address rate limit.
	RemoteAddr string
}

// StateToken is the signed payload round-tripped through the upstream
// provider. Its wire form is "payload:signature".
type StateToken struct {
	Nonce       string    `json:"nonce"`
	ClientID    string    `json:"client_id"`
	RedirectURI string    `json:"redirect_uri"`
	CreatedAt   time.Time `json:"created_at"`
}

// pendingAuthorization is everything needed to finish an attempt once the
// upstream provider redirects back. It lives in the SessionStore under the
// state nonce and is consumed exactly once.
type pendingAuthorization struct {
	AttemptID        string    `json:"attempt_id"`
	ClientID         string    `json:"client_id"`
	RedirectURI      string    `json:"redirect_uri"`
	Principal        string    `json:"principal"`
	ClientState      string    `json:"client_state,omitempty"`
	CodeChallenge    string    `json:"code_challenge"`
	Scopes           []string  `json:"scopes"`
	UpstreamVerifier string    `json:"upstream_verifier"`
	CreatedAt        time.Time `json:"created_at"`
}

// AuthorizationCode is the one-time downstream code issued to the client
// after a successful callback. It is stored in the SessionStore keyed by the
// code value and consumed exactly once at the token endpoint.
type AuthorizationCode struct {
	ClientID      string    `json:"client_id"`
	RedirectURI   string    `json:"redirect_uri"`
	CodeChallenge string    `json:"code_challenge"`
	Scopes        []string  `json:"scopes"`
	Principal     string    `json:"principal"`
	Expiry        time.Time `json:"expiry"`
}

// TokenPair is the live upstream credential for one principal. Values are
// immutable once published; a refresh replaces the whole pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry"`
	ObtainedAt   time.Time `json:"obtained_at"`
	Scopes       []string  `json:"scopes"`

	// Subject and Email identify the upstream account that granted the
	// credential. They are fixed at authorization and survive refreshes.
	Subject string `json:"subject,omitempty"`
	Email   string `json:"email,omitempty"`

	// ClientID is the downstream client that completed the authorization.
	ClientID string `json:"client_id,omitempty"`
}

// Lifetime is the total validity window the upstream granted.
func (p *TokenPair) Lifetime() time.Duration {
	if p.Expiry.IsZero() {
		return 0
	}
	return p.Expiry.Sub(p.ObtainedAt)
}

// Expired reports whether the access token is past its expiry at now.
func (p *TokenPair) Expired(now time.Time) bool {
	return !p.Expiry.IsZero() && !now.Before(p.Expiry)
}

// NeedsRefresh reports whether the elapsed fraction of the token's lifetime
// has reached threshold, or the token is already expired. Tokens without an
// expiry never need refreshing.
func (p *TokenPair) NeedsRefresh(now time.Time, threshold float64) bool {
	if p.Expiry.IsZero() {
		return false
	}
	if p.Expired(now) {
		return true
	}
	lifetime := p.Lifetime()
	if lifetime <= 0 {
		return true
	}
	elapsed := now.Sub(p.ObtainedAt)
	return float64(elapsed) >= threshold*float64(lifetime)
}

// ScopeString joins the granted scopes with spaces, the OAuth wire form.
func (p *TokenPair) ScopeString() string {
	return strings.Join(p.Scopes, " ")
}

// String never includes token values.
func (p *TokenPair) String() string {
	return fmt.Sprintf("TokenPair{access=[REDACTED] refresh=%t expiry=%s scopes=%d}",
		p.RefreshToken != "", p.Expiry.Format(time.RFC3339), len(p.Scopes))
}

// GoString mirrors String for %#v.
func (p *TokenPair) GoString() string {
	return p.String()
}

// LogValue keeps token values out of structured logs.
func (p *TokenPair) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("has_refresh_token", p.RefreshToken != ""),
		slog.Time("expiry", p.Expiry),
		slog.Int("scopes", len(p.Scopes)),
	)
}

// TokenSummary is what leaves the server about a credential: never the tokens.
type TokenSummary struct {
	Principal string    `json:"principal"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenStatus is the introspection view of a principal's stored credential.
type TokenStatus struct {
	Principal       string    `json:"principal"`
	ClientID        string    `json:"client_id,omitempty"`
	Authenticated   bool      `json:"authenticated"`
	ReauthRequired  bool      `json:"reauth_required"`
	Scopes          []string  `json:"scopes,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	ObtainedAt      time.Time `json:"obtained_at,omitempty"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	NeedsRefresh    bool      `json:"needs_refresh"`
}
