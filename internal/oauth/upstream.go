package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"sheetgate/pkg/logging"
)

// Upstream is the identity provider's authorize and token endpoints.
type Upstream interface {
	// AuthCodeURL builds the provider's authorize URL for one attempt.
	AuthCodeURL(state, codeChallenge string, scopes []string) string

	// Exchange redeems an authorization code. When the response carries an
	// ID token, the pair's Subject and Email name the consenting account.
	// Failures are *Error with kind KindCodeExchangeFailed (rejected) or
	// KindUpstreamTransientError.
	Exchange(ctx context.Context, code, codeVerifier string) (*TokenPair, error)

	// Refresh obtains a new access token. Failures are *Error with kind
	// KindReauthRequired (refresh token revoked) or KindUpstreamTransientError.
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// errUpstreamRejected marks 4xx responses other than invalid_grant. They are
// not retried but do not prove the refresh token is dead either.
var errUpstreamRejected = errors.New("upstream rejected the request")

// UpstreamOptions configures OAuth2Upstream.
type UpstreamOptions struct {
	// Provider is "google" or "custom". Custom requires AuthURL and TokenURL.
	Provider     string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Clock        Clock
}

// OAuth2Upstream talks to the provider through golang.org/x/oauth2.
type OAuth2Upstream struct {
	config     *oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
	clock      Clock
}

// NewOAuth2Upstream creates the upstream client.
func NewOAuth2Upstream(opts UpstreamOptions) *OAuth2Upstream {
	endpoint := google.Endpoint
	if opts.Provider == "custom" {
		endpoint = oauth2.Endpoint{
			AuthURL:   opts.AuthURL,
			TokenURL:  opts.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuth2Upstream{
		config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  opts.RedirectURL,
		},
		httpClient: opts.HTTPClient,
		timeout:    timeout,
		clock:      clockOrDefault(opts.Clock),
	}
}

// AuthCodeURL always requests offline access and forces the consent prompt so
// a refresh token is issued on every grant.
func (u *OAuth2Upstream) AuthCodeURL(state, codeChallenge string, scopes []string) string {
	cfg := *u.config
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (u *OAuth2Upstream) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	if u.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, u.httpClient)
	}
	return ctx, cancel
}

func (u *OAuth2Upstream) Exchange(ctx context.Context, code, codeVerifier string) (*TokenPair, error) {
	ctx, cancel := u.requestContext(ctx)
	defer cancel()

	tok, err := u.config.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, classifyUpstreamError(err, KindCodeExchangeFailed, "authorization code was rejected by the identity provider")
	}
	pair := u.toPair(tok)

	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		id, err := parseIDToken(raw, u.config.ClientID, u.clock.Now())
		if err != nil {
			return nil, newError(KindCodeExchangeFailed, "identity provider returned an unusable ID token", err)
		}
		pair.Subject, pair.Email = id.Subject, id.Email
	}
	return pair, nil
}

func (u *OAuth2Upstream) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	ctx, cancel := u.requestContext(ctx)
	defer cancel()

	tok, err := u.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, classifyUpstreamError(err, KindReauthRequired, "refresh token is no longer valid, sign in again")
	}
	pair := u.toPair(tok)
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}

// toPair re-bases the expiry on the injected clock. x/oauth2 computes Expiry
// from wall time, so only the remaining lifetime is taken from it.
func (u *OAuth2Upstream) toPair(tok *oauth2.Token) *TokenPair {
	now := u.clock.Now()
	pair := &TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		ObtainedAt:   now,
	}
	if !tok.Expiry.IsZero() {
		pair.Expiry = now.Add(time.Until(tok.Expiry).Round(time.Second))
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		pair.Scopes = withoutIdentityScopes(strings.Fields(scope))
	}
	return pair
}

// classifyUpstreamError turns an x/oauth2 failure into an *Error without
// copying the response body. invalid_grant maps to rejectedKind. Server
// errors, throttling, timeouts and network failures are transient.
func classifyUpstreamError(err error, rejectedKind ErrorKind, rejectedMessage string) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		detail := fmt.Errorf("token endpoint returned status %d (%s)", status, rErr.ErrorCode)
		logging.Debug("Upstream", "Token endpoint error: status=%d code=%s", status, rErr.ErrorCode)

		switch {
		case rErr.ErrorCode == "invalid_grant":
			return newError(rejectedKind, rejectedMessage, detail)
		case status >= 500 || status == http.StatusTooManyRequests:
			return newError(KindUpstreamTransientError, "identity provider is temporarily unavailable", detail)
		case rejectedKind == KindCodeExchangeFailed:
			return newError(KindCodeExchangeFailed, rejectedMessage, detail)
		default:
			return newError(KindUpstreamTransientError, "identity provider rejected the request",
				fmt.Errorf("%w: %v", errUpstreamRejected, detail))
		}
	}
	return newError(KindUpstreamTransientError, "identity provider is unreachable", err)
}
