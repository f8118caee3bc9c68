package oauth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"sheetgate/pkg/logging"
	pkgoauth "sheetgate/pkg/oauth"
)

// TokenSink receives the credential produced by a completed authorization.
// The lifecycle Manager implements it.
type TokenSink interface {
	StoreTokens(ctx context.Context, principal string, pair *TokenPair) error
}

// AuthorizerConfig wires the orchestrator to its collaborators.
type AuthorizerConfig struct {
	Clients     []ClientRegistration
	ScopeMode   ScopeMode
	StateSecret []byte
	StateTTL    time.Duration
	CodeTTL     time.Duration

	RateLimitAttempts int
	RateLimitWindow   time.Duration

	// VerifyIdentity requests an ID token upstream and names the principal
	// after the consenting account. Without it the principal is the one
	// named at authorize time, or the client id.
	VerifyIdentity bool

	Sessions SessionStore
	Limiter  RateLimiter
	Upstream Upstream
	Tokens   TokenSink
	Clock    Clock
	Metrics  *Metrics
}

// Authorizer drives authorize, callback and code redemption. Each attempt
// moves Requested -> StatePending -> Completed | Expired | Rejected, and the
// pending record is consumed on the first callback so terminal states stick.
type Authorizer struct {
	clients  map[string]ClientRegistration
	scopes   []string
	signer   *stateSigner
	stateTTL time.Duration
	codeTTL  time.Duration
	attempts int
	window   time.Duration
	identity bool
	sessions SessionStore
	limiter  RateLimiter
	upstream Upstream
	tokens   TokenSink
	clock    Clock
	metrics  *Metrics
}

// NewAuthorizer validates the configuration and builds an Authorizer.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.Sessions == nil || cfg.Limiter == nil || cfg.Upstream == nil {
		return nil, errors.New("authorizer requires a session store, rate limiter and upstream")
	}
	mode := cfg.ScopeMode
	if mode == "" {
		mode = DefaultScopeMode
	}
	scopes := mode.Scopes()
	if scopes == nil {
		return nil, newError(KindUnknownScopeMode, fmt.Sprintf("unknown scope mode %q", mode), nil)
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 5 * time.Minute
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 2 * time.Minute
	}
	if cfg.RateLimitAttempts <= 0 {
		cfg.RateLimitAttempts = 5
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	clock := clockOrDefault(cfg.Clock)
	signer, err := newStateSigner(cfg.StateSecret, cfg.StateTTL, clock)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]ClientRegistration, len(cfg.Clients))
	for _, c := range cfg.Clients {
		clients[c.ClientID] = c
	}

	return &Authorizer{
		clients:  clients,
		scopes:   scopes,
		signer:   signer,
		stateTTL: cfg.StateTTL,
		codeTTL:  cfg.CodeTTL,
		attempts: cfg.RateLimitAttempts,
		window:   cfg.RateLimitWindow,
		identity: cfg.VerifyIdentity,
		sessions: cfg.Sessions,
		limiter:  cfg.Limiter,
		upstream: cfg.Upstream,
		tokens:   cfg.Tokens,
		clock:    clock,
		metrics:  cfg.Metrics,
	}, nil
}

// BeginAuthorization validates req and returns the upstream authorize URL.
// The rate limit is checked before anything else.
func (a *Authorizer) BeginAuthorization(ctx context.Context, req AuthorizationRequest) (string, error) {
	redirect, err := a.begin(ctx, req)
	if err != nil {
		a.metrics.authorizationResult("begin", KindOf(err))
		logging.Warn("Authorizer", "Authorization rejected for client=%s: %s", req.ClientID, KindOf(err))
		return "", err
	}
	a.metrics.authorizationResult("begin", "")
	return redirect, nil
}

func (a *Authorizer) begin(ctx context.Context, req AuthorizationRequest) (string, error) {
	allowed, _, err := a.limiter.Allow(ctx, a.rateLimitKey(req), a.attempts, a.window)
	if err != nil {
		return "", fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return "", newError(KindRateLimited, "too many authorization attempts, try again later", nil)
	}

	if req.CodeChallenge == "" || req.CodeChallengeMethod == "" {
		return "", newError(KindPkceRequired, "code_challenge and code_challenge_method are required", nil)
	}
	if req.CodeChallengeMethod != pkgoauth.MethodS256 {
		return "", newError(KindUnsupportedPkceMethod, "code_challenge_method must be S256", nil)
	}
	if !pkgoauth.ValidChallenge(req.CodeChallenge) {
		return "", newError(KindPkceRequired, "code_challenge is malformed", nil)
	}

	client, ok := a.clients[req.ClientID]
	if !ok {
		return "", newError(KindInvalidClient, "unknown client_id", nil)
	}
	if !matchRedirectURI(client.RedirectURIs, req.RedirectURI) {
		return "", newError(KindInvalidRedirectURI, "redirect_uri is not registered for this client", nil)
	}

	scopes := a.scopes
	if req.ScopeMode != "" {
		mode, err := ParseScopeMode(req.ScopeMode)
		if err != nil {
			return "", err
		}
		scopes = mode.Scopes()
	}

	upstreamPKCE, err := pkgoauth.GeneratePKCE()
	if err != nil {
		return "", fmt.Errorf("failed to generate PKCE pair: %w", err)
	}
	nonce, err := pkgoauth.GenerateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}

	now := a.clock.Now()
	state, err := a.signer.Mint(StateToken{
		Nonce:       nonce,
		ClientID:    req.ClientID,
		RedirectURI: req.RedirectURI,
		CreatedAt:   now,
	})
	if err != nil {
		return "", err
	}

	pending := pendingAuthorization{
		AttemptID:        uuid.NewString(),
		ClientID:         req.ClientID,
		RedirectURI:      req.RedirectURI,
		Principal:        req.Principal,
		ClientState:      req.ClientState,
		CodeChallenge:    req.CodeChallenge,
		Scopes:           scopes,
		UpstreamVerifier: upstreamPKCE.CodeVerifier,
		CreatedAt:        now,
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return "", fmt.Errorf("failed to encode pending authorization: %w", err)
	}
	if err := a.sessions.Put(ctx, stateKeyPrefix+nonce, data, a.stateTTL); err != nil {
		return "", fmt.Errorf("failed to store pending authorization: %w", err)
	}

	logging.Info("Authorizer", "Authorization started attempt=%s client=%s scopes=%d",
		pending.AttemptID, req.ClientID, len(scopes))

	requested := scopes
	if a.identity {
		requested = append(append([]string(nil), scopes...), identityScopes()...)
	}
	return a.upstream.AuthCodeURL(state, upstreamPKCE.CodeChallenge, requested), nil
}

// unregisteredClient stands in for every unknown client_id in rate-limit
// keys, so rotating client ids from one address shares a single budget.
const unregisteredClient = "*"

// rateLimitKey keys attempts by client and remote address.
func (a *Authorizer) rateLimitKey(req AuthorizationRequest) string {
	client := req.ClientID
	if _, ok := a.clients[client]; !ok {
		client = unregisteredClient
	}
	return clientKey(client, req.RemoteAddr)
}

// CompleteAuthorization validates state, consumes it and exchanges code
// upstream with the verifier generated at BeginAuthorization.
func (a *Authorizer) CompleteAuthorization(ctx context.Context, code, state string) (*TokenPair, error) {
	_, pair, err := a.complete(ctx, code, state)
	return pair, err
}

func (a *Authorizer) complete(ctx context.Context, code, state string) (*pendingAuthorization, *TokenPair, error) {
	pending, pair, err := a.exchange(ctx, code, state)
	if err != nil {
		a.metrics.authorizationResult("complete", KindOf(err))
		logging.Warn("Authorizer", "Authorization callback failed: %s", KindOf(err))
		return nil, nil, err
	}
	a.metrics.authorizationResult("complete", "")
	logging.Audit("authorization_completed",
		"attempt_id", pending.AttemptID,
		"client_id", pending.ClientID,
		"scopes", len(pair.Scopes))
	return pending, pair, nil
}

func (a *Authorizer) exchange(ctx context.Context, code, state string) (*pendingAuthorization, *TokenPair, error) {
	claims, err := a.signer.Verify(state)
	if err != nil {
		if KindOf(err) == KindExpiredState && claims != nil {
			if _, _, cerr := a.sessions.Consume(ctx, stateKeyPrefix+claims.Nonce); cerr != nil {
				logging.Debug("Authorizer", "Failed to discard expired state: %v", cerr)
			}
		}
		return nil, nil, err
	}

	data, ok, err := a.sessions.Consume(ctx, stateKeyPrefix+claims.Nonce)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume state: %w", err)
	}
	if !ok {
		return nil, nil, newError(KindStateAlreadyUsed, "this authorization response was already used, start again", nil)
	}

	var pending pendingAuthorization
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, nil, newError(KindInvalidState, "authorization session is unreadable", err)
	}
	if pending.ClientID != claims.ClientID || pending.RedirectURI != claims.RedirectURI {
		return nil, nil, newError(KindInvalidState, "state does not match the pending authorization", nil)
	}

	if code == "" {
		return nil, nil, newError(KindCodeExchangeFailed, "identity provider did not return an authorization code", nil)
	}

	pair, err := a.upstream.Exchange(ctx, code, pending.UpstreamVerifier)
	if err != nil {
		return nil, nil, err
	}
	if len(pair.Scopes) == 0 {
		pair.Scopes = pending.Scopes
	}
	return &pending, pair, nil
}

// CallbackResult is the outcome of a successful upstream callback.
type CallbackResult struct {
	Principal   string
	ClientID    string
	RedirectURL string
	Summary     TokenSummary
}

// CompleteCallback finishes an attempt end to end: it completes the
// authorization, hands the TokenPair to the token sink and issues a one-time
// downstream code bound to the client's PKCE challenge.
func (a *Authorizer) CompleteCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	pending, pair, err := a.complete(ctx, code, state)
	if err != nil {
		return nil, err
	}

	principal, err := a.principalFor(pending, pair)
	if err == nil && a.tokens != nil {
		pair.ClientID = pending.ClientID
		err = a.tokens.StoreTokens(ctx, principal, pair)
	}
	if err != nil {
		a.metrics.authorizationResult("bind", KindOf(err))
		logging.Warn("Authorizer", "Credential for attempt=%s was not stored: %s", pending.AttemptID, KindOf(err))
		return nil, err
	}
	logging.Audit("credential_bound",
		"attempt_id", pending.AttemptID,
		"client_id", pending.ClientID,
		"principal", logging.TruncateID(principal))

	downstreamCode, err := pkgoauth.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate authorization code: %w", err)
	}
	record := AuthorizationCode{
		ClientID:      pending.ClientID,
		RedirectURI:   pending.RedirectURI,
		CodeChallenge: pending.CodeChallenge,
		Scopes:        pair.Scopes,
		Principal:     principal,
		Expiry:        pair.Expiry,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorization code: %w", err)
	}
	if err := a.sessions.Put(ctx, codeKeyPrefix+downstreamCode, data, a.codeTTL); err != nil {
		return nil, fmt.Errorf("failed to store authorization code: %w", err)
	}

	params := url.Values{"code": {downstreamCode}}
	if pending.ClientState != "" {
		params.Set("state", pending.ClientState)
	}
	redirectURL, err := appendQuery(pending.RedirectURI, params)
	if err != nil {
		return nil, fmt.Errorf("failed to build client redirect: %w", err)
	}

	return &CallbackResult{
		Principal:   principal,
		ClientID:    pending.ClientID,
		RedirectURL: redirectURL,
		Summary:     summaryFor(principal, pair.Scopes, pair.Expiry),
	}, nil
}

// principalFor names the credential an attempt produced. With identity
// verification the upstream account decides, and a principal named at
// authorize time must be that account.
func (a *Authorizer) principalFor(pending *pendingAuthorization, pair *TokenPair) (string, error) {
	if !a.identity {
		if pending.Principal != "" {
			return pending.Principal, nil
		}
		return pending.ClientID, nil
	}
	if pair.Subject == "" {
		return "", newError(KindCodeExchangeFailed, "identity provider did not identify the signed-in account", nil)
	}
	account := upstreamIdentity{Subject: pair.Subject, Email: pair.Email}.Account()
	if pending.Principal != "" && !strings.EqualFold(pending.Principal, account) {
		return "", newError(KindPrincipalMismatch, "the signed-in account is not the requested principal", nil)
	}
	return account, nil
}

// AuthenticateClient checks a confidential client's credentials. Public
// clients have no secret and are always refused.
func (a *Authorizer) AuthenticateClient(clientID, secret string) error {
	client, ok := a.clients[clientID]
	if !ok || client.Public || client.Secret == "" {
		return newError(KindInvalidClient, "client authentication failed", nil)
	}
	if subtle.ConstantTimeCompare([]byte(secret), []byte(client.Secret)) != 1 {
		return newError(KindInvalidClient, "client authentication failed", nil)
	}
	return nil
}

// TokenRequest is a downstream authorization_code grant.
type TokenRequest struct {
	ClientID     string
	ClientSecret string
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// RedeemCode consumes a downstream code once and verifies the client's PKCE
// verifier against the challenge it sent at authorize time.
func (a *Authorizer) RedeemCode(ctx context.Context, req TokenRequest) (*TokenSummary, error) {
	if req.Code == "" || req.CodeVerifier == "" || req.ClientID == "" {
		return nil, newError(KindInvalidRequest, "code, code_verifier and client_id are required", nil)
	}
	client, ok := a.clients[req.ClientID]
	if !ok {
		return nil, newError(KindInvalidClient, "unknown client_id", nil)
	}
	if !client.Public && subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(client.Secret)) != 1 {
		return nil, newError(KindInvalidClient, "client authentication failed", nil)
	}

	data, ok, err := a.sessions.Consume(ctx, codeKeyPrefix+req.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !ok {
		return nil, newError(KindInvalidGrant, "authorization code is invalid, expired or already used", nil)
	}

	var record AuthorizationCode
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, newError(KindInvalidGrant, "authorization code is unreadable", err)
	}
	if record.ClientID != req.ClientID {
		return nil, newError(KindInvalidGrant, "authorization code was issued to another client", nil)
	}
	if req.RedirectURI != "" && req.RedirectURI != record.RedirectURI {
		return nil, newError(KindInvalidGrant, "redirect_uri does not match the authorization request", nil)
	}
	if !pkgoauth.VerifyS256(req.CodeVerifier, record.CodeChallenge) {
		return nil, newError(KindInvalidGrant, "code_verifier does not match code_challenge", nil)
	}

	logging.Audit("authorization_code_redeemed",
		"client_id", req.ClientID,
		"principal", logging.TruncateID(record.Principal))

	summary := summaryFor(record.Principal, record.Scopes, record.Expiry)
	return &summary, nil
}

func summaryFor(principal string, scopes []string, expiry time.Time) TokenSummary {
	return TokenSummary{
		Principal: principal,
		Scope:     strings.Join(scopes, " "),
		ExpiresAt: expiry,
	}
}
