package oauth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetgate/internal/testing/mock"
	pkgoauth "sheetgate/pkg/oauth"
)

const (
	testClientID    = "sheets-addon"
	testRedirectURI = "https://addon.example.com/oauth/done"
)

type authorizerFixture struct {
	clock      *mock.MockClock
	provider   *mock.OAuthServer
	sessions   *MemorySessionStore
	manager    *Manager
	authorizer *Authorizer
}

func newAuthorizerFixture(t *testing.T, mutate func(*AuthorizerConfig)) *authorizerFixture {
	t.Helper()
	return newAuthorizerFixtureWithProvider(t, mock.OAuthServerConfig{}, mutate)
}

func newAuthorizerFixtureWithProvider(t *testing.T, providerCfg mock.OAuthServerConfig, mutate func(*AuthorizerConfig)) *authorizerFixture {
	t.Helper()
	clock := newTestClock()
	provider, upstream := startProvider(t, clock, providerCfg)

	store, err := NewEncryptedTokenStore(t.TempDir(), testEncryptionKey, nil)
	require.NoError(t, err)
	manager, err := NewManager(ManagerConfig{Store: store, Upstream: upstream, Clock: clock})
	require.NoError(t, err)

	sessions := NewMemorySessionStore(clock)
	cfg := AuthorizerConfig{
		Clients: []ClientRegistration{
			{ClientID: testClientID, RedirectURIs: []string{testRedirectURI}, Public: true},
			{ClientID: "backend", RedirectURIs: []string{"https://backend.example.com/cb"}, Secret: "backend-secret"},
			{ClientID: "reporting", RedirectURIs: []string{"https://reports.example.com/cb"}, Secret: "reporting-secret"},
		},
		StateSecret:    testStateSecret,
		VerifyIdentity: true,
		Sessions:       sessions,
		Limiter:     NewMemoryRateLimiter(clock),
		Upstream:    upstream,
		Tokens:      manager,
		Clock:       clock,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	authorizer, err := NewAuthorizer(cfg)
	require.NoError(t, err)

	return &authorizerFixture{
		clock:      clock,
		provider:   provider,
		sessions:   sessions,
		manager:    manager,
		authorizer: authorizer,
	}
}

// downstreamPKCE is the client's own PKCE pair.
func downstreamPKCE(t *testing.T) *pkgoauth.PKCEChallenge {
	t.Helper()
	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)
	return pkce
}

func validRequest(pkce *pkgoauth.PKCEChallenge) AuthorizationRequest {
	return AuthorizationRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		CodeChallenge:       pkce.CodeChallenge,
		CodeChallengeMethod: "S256",
		ClientState:         "client-xyz",
		RemoteAddr:          "192.0.2.10:50000",
	}
}

func TestAuthorizer_BeginBuildsUpstreamURL(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	pkce := downstreamPKCE(t)

	redirect, err := f.authorizer.BeginAuthorization(context.Background(), validRequest(pkce))
	require.NoError(t, err)

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	q := u.Query()

	assert.True(t, strings.HasPrefix(redirect, f.provider.GetAuthorizeURL()))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEqual(t, pkce.CodeChallenge, q.Get("code_challenge"), "upstream gets the server's own challenge")
	scopes := strings.Fields(q.Get("scope"))
	assert.Len(t, scopes, 5, "standard mode plus identity")
	assert.Contains(t, scopes, "openid")
	assert.Contains(t, scopes, "email")
	assert.Equal(t, 1, strings.Count(q.Get("state"), ":"))
	assert.Equal(t, 1, f.sessions.Len(), "pending authorization stored under the nonce")
}

func TestAuthorizer_BeginValidation(t *testing.T) {
	pkce := &pkgoauth.PKCEChallenge{CodeChallenge: pkgoauth.S256Challenge(strings.Repeat("a", 43))}

	tests := []struct {
		name   string
		mutate func(*AuthorizationRequest)
		want   error
	}{
		{"missing challenge", func(r *AuthorizationRequest) { r.CodeChallenge = "" }, ErrPkceRequired},
		{"missing method", func(r *AuthorizationRequest) { r.CodeChallengeMethod = "" }, ErrPkceRequired},
		{"plain method", func(r *AuthorizationRequest) { r.CodeChallengeMethod = "plain" }, ErrUnsupportedPkceMethod},
		{"lowercase method", func(r *AuthorizationRequest) { r.CodeChallengeMethod = "s256" }, ErrUnsupportedPkceMethod},
		{"malformed challenge", func(r *AuthorizationRequest) { r.CodeChallenge = "short" }, ErrPkceRequired},
		{"unknown client", func(r *AuthorizationRequest) { r.ClientID = "stranger" }, ErrInvalidClient},
		{"redirect path prefix", func(r *AuthorizationRequest) { r.RedirectURI = testRedirectURI + "/x" }, ErrInvalidRedirectURI},
		{"redirect extra query", func(r *AuthorizationRequest) { r.RedirectURI = testRedirectURI + "?a=b" }, ErrInvalidRedirectURI},
		{"redirect other host", func(r *AuthorizationRequest) { r.RedirectURI = "https://evil.example.com/oauth/done" }, ErrInvalidRedirectURI},
		{"unknown scope mode", func(r *AuthorizationRequest) { r.ScopeMode = "everything" }, ErrUnknownScopeMode},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newAuthorizerFixture(t, nil)
			req := validRequest(pkce)
			tc.mutate(&req)

			redirect, err := f.authorizer.BeginAuthorization(context.Background(), req)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, redirect)
			assert.Zero(t, f.sessions.Len(), "nothing stored on failure")
		})
	}
}

func TestAuthorizer_ScopeModeOverride(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	req := validRequest(downstreamPKCE(t))
	req.ScopeMode = "readonly"

	redirect, err := f.authorizer.BeginAuthorization(context.Background(), req)
	require.NoError(t, err)
	u, _ := url.Parse(redirect)
	assert.Equal(t, append(ScopeModeReadonly.Scopes(), "openid", "email"), strings.Fields(u.Query().Get("scope")))
}

func TestAuthorizer_RateLimitCheckedFirst(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	// Invalid requests still count, and the limit wins over validation.
	bad := validRequest(downstreamPKCE(t))
	bad.CodeChallenge = ""
	for i := 0; i < 5; i++ {
		_, err := f.authorizer.BeginAuthorization(ctx, bad)
		require.ErrorIs(t, err, ErrPkceRequired, "attempt %d", i+1)
	}

	_, err := f.authorizer.BeginAuthorization(ctx, bad)
	assert.ErrorIs(t, err, ErrRateLimited)
	_, err = f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	assert.ErrorIs(t, err, ErrRateLimited)

	// Another address has its own budget.
	other := validRequest(downstreamPKCE(t))
	other.RemoteAddr = "192.0.2.99:1234"
	_, err = f.authorizer.BeginAuthorization(ctx, other)
	assert.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	assert.NoError(t, err, "allowed again once the window has passed")
}

func TestAuthorizer_CompleteAuthorizationIsSingleUse(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	pair, err := f.authorizer.CompleteAuthorization(ctx, code, state)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Len(t, pair.Scopes, 3)

	_, err = f.authorizer.CompleteAuthorization(ctx, code, state)
	assert.ErrorIs(t, err, ErrStateAlreadyUsed)
	assert.Equal(t, 1, f.provider.ExchangeCount(), "replay never reaches the provider")
}

func TestAuthorizer_CompleteExpiredState(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	f.clock.Advance(5*time.Minute + time.Second)

	_, err = f.authorizer.CompleteAuthorization(ctx, code, state)
	assert.ErrorIs(t, err, ErrExpiredState)
	assert.Zero(t, f.provider.ExchangeCount())
}

func TestAuthorizer_CompleteTamperedState(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	flipped := "A"
	if state[0] == 'A' {
		flipped = "B"
	}
	_, err = f.authorizer.CompleteAuthorization(ctx, code, flipped+state[1:])
	assert.ErrorIs(t, err, ErrInvalidState)

	// The genuine state is untouched by the forged attempt.
	_, err = f.authorizer.CompleteAuthorization(ctx, code, state)
	assert.NoError(t, err)
}

func TestAuthorizer_CompleteRejectedCode(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	_, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	_, err = f.authorizer.CompleteAuthorization(ctx, "not-a-real-code", state)
	assert.ErrorIs(t, err, ErrCodeExchangeFailed)

	_, err = f.authorizer.CompleteAuthorization(ctx, "not-a-real-code", state)
	assert.ErrorIs(t, err, ErrStateAlreadyUsed, "a failed exchange still burns the state")
}

func TestAuthorizer_CompleteMissingCode(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	_, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	_, err = f.authorizer.CompleteAuthorization(ctx, "", state)
	assert.ErrorIs(t, err, ErrCodeExchangeFailed)
}

func TestAuthorizer_CompleteUpstreamOutage(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	f.provider.SetSimulation(mock.OAuthErrorSimulation{ServerError: true})
	_, err = f.authorizer.CompleteAuthorization(ctx, code, state)
	assert.ErrorIs(t, err, ErrUpstreamTransientError)
}

func TestAuthorizer_CallbackAndRedeem(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()
	pkce := downstreamPKCE(t)

	f.provider.SetIdentity("sub-alice", "alice@example.com")
	req := validRequest(pkce)
	req.Principal = "alice@example.com"
	redirect, err := f.authorizer.BeginAuthorization(ctx, req)
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	result, err := f.authorizer.CompleteCallback(ctx, code, state)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", result.Principal)
	assert.Equal(t, testClientID, result.ClientID)

	back, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "addon.example.com", back.Host)
	assert.Equal(t, "/oauth/done", back.Path)
	assert.Equal(t, "client-xyz", back.Query().Get("state"))
	downstreamCode := back.Query().Get("code")
	require.NotEmpty(t, downstreamCode)
	assert.NotContains(t, result.RedirectURL, "access_token")

	// The credential is now held by the lifecycle manager.
	tok, err := f.manager.GetValidAccessToken(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, tok.IsEmpty())

	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{
		ClientID:     testClientID,
		Code:         downstreamCode,
		CodeVerifier: "wrong-verifier-wrong-verifier-wrong-verifier-00",
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)

	// A failed redemption consumed the code.
	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{
		ClientID:     testClientID,
		Code:         downstreamCode,
		CodeVerifier: pkce.CodeVerifier,
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizer_RedeemCode(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()
	pkce := downstreamPKCE(t)

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(pkce))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)
	result, err := f.authorizer.CompleteCallback(ctx, code, state)
	require.NoError(t, err)
	back, _ := url.Parse(result.RedirectURL)
	downstreamCode := back.Query().Get("code")

	summary, err := f.authorizer.RedeemCode(ctx, TokenRequest{
		ClientID:     testClientID,
		Code:         downstreamCode,
		CodeVerifier: pkce.CodeVerifier,
		RedirectURI:  testRedirectURI,
	})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", summary.Principal, "principal is the consenting account")
	assert.Len(t, strings.Fields(summary.Scope), 3)
	assert.False(t, summary.ExpiresAt.IsZero())

	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{
		ClientID:     testClientID,
		Code:         downstreamCode,
		CodeVerifier: pkce.CodeVerifier,
	})
	assert.ErrorIs(t, err, ErrInvalidGrant, "codes are single use")
}

func TestAuthorizer_RedeemCodeExpires(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()
	pkce := downstreamPKCE(t)

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(pkce))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)
	result, err := f.authorizer.CompleteCallback(ctx, code, state)
	require.NoError(t, err)
	back, _ := url.Parse(result.RedirectURL)

	f.clock.Advance(3 * time.Minute)
	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{
		ClientID:     testClientID,
		Code:         back.Query().Get("code"),
		CodeVerifier: pkce.CodeVerifier,
	})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestAuthorizer_RedeemCodeClientChecks(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	_, err := f.authorizer.RedeemCode(ctx, TokenRequest{ClientID: testClientID})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{ClientID: "stranger", Code: "c", CodeVerifier: "v"})
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{ClientID: "backend", ClientSecret: "nope", Code: "c", CodeVerifier: "v"})
	assert.ErrorIs(t, err, ErrInvalidClient, "confidential clients must authenticate")

	_, err = f.authorizer.RedeemCode(ctx, TokenRequest{ClientID: "backend", ClientSecret: "backend-secret", Code: "c", CodeVerifier: "v"})
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestNewAuthorizer_Validation(t *testing.T) {
	_, err := NewAuthorizer(AuthorizerConfig{})
	assert.Error(t, err)

	base := AuthorizerConfig{
		StateSecret: testStateSecret,
		Sessions:    NewMemorySessionStore(nil),
		Limiter:     NewMemoryRateLimiter(nil),
		Upstream:    &stubUpstream{},
	}

	cfg := base
	cfg.ScopeMode = "bogus"
	_, err = NewAuthorizer(cfg)
	assert.ErrorIs(t, err, ErrUnknownScopeMode)

	cfg = base
	cfg.StateSecret = []byte("too-short")
	_, err = NewAuthorizer(cfg)
	assert.Error(t, err)

	_, err = NewAuthorizer(base)
	assert.NoError(t, err)
}

// signIn runs one authorization as the provider's current account.
func (f *authorizerFixture) signIn(t *testing.T, req AuthorizationRequest) (*CallbackResult, error) {
	t.Helper()
	ctx := context.Background()
	redirect, err := f.authorizer.BeginAuthorization(ctx, req)
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)
	return f.authorizer.CompleteCallback(ctx, code, state)
}

func TestAuthorizer_PrincipalMustMatchSignedInAccount(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()
	logs := captureLogs(t)

	f.provider.SetIdentity("sub-alice", "alice@example.com")
	_, err := f.signIn(t, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	before, err := f.manager.GetValidAccessToken(ctx, "alice@example.com")
	require.NoError(t, err)

	// Someone else signs in but names alice as the principal.
	f.provider.SetIdentity("sub-mallory", "mallory@example.com")
	req := validRequest(downstreamPKCE(t))
	req.Principal = "alice@example.com"
	result, err := f.signIn(t, req)
	assert.ErrorIs(t, err, ErrPrincipalMismatch)
	assert.Nil(t, result)

	after, err := f.manager.GetValidAccessToken(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, before.Value(), after.Value(), "alice's credential is untouched")
	assert.NotContains(t, logs.String(), after.Value())

	_, err = f.manager.GetValidAccessToken(ctx, "mallory@example.com")
	assert.ErrorIs(t, err, ErrNotAuthenticated, "nothing stored for the mismatched attempt")
}

func TestAuthorizer_RejectsAccountSwapForBoundPrincipal(t *testing.T) {
	f := newAuthorizerFixture(t, nil)

	f.provider.SetIdentity("sub-alice", "alice@example.com")
	_, err := f.signIn(t, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)

	// A different upstream account presenting the same email address.
	f.provider.SetIdentity("sub-impostor", "alice@example.com")
	_, err = f.signIn(t, validRequest(downstreamPKCE(t)))
	assert.ErrorIs(t, err, ErrPrincipalMismatch)

	status, err := f.manager.Status(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, testClientID, status.ClientID)
}

func TestAuthorizer_RequiresIDToken(t *testing.T) {
	f := newAuthorizerFixtureWithProvider(t, mock.OAuthServerConfig{OmitIDToken: true}, nil)

	_, err := f.signIn(t, validRequest(downstreamPKCE(t)))
	assert.ErrorIs(t, err, ErrCodeExchangeFailed)
	principals, err := f.manager.Principals(context.Background())
	require.NoError(t, err)
	assert.Empty(t, principals)
}

func TestAuthorizer_WithoutIdentityVerification(t *testing.T) {
	f := newAuthorizerFixture(t, func(cfg *AuthorizerConfig) { cfg.VerifyIdentity = false })
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, ScopeModeStandard.Scopes(), strings.Fields(u.Query().Get("scope")))

	result, err := f.signIn(t, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	assert.Equal(t, testClientID, result.Principal, "principal defaults to the client id")
}

func TestAuthorizer_UnknownClientsShareRateLimit(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		req := validRequest(downstreamPKCE(t))
		req.ClientID = fmt.Sprintf("made-up-%d", i)
		_, err := f.authorizer.BeginAuthorization(ctx, req)
		require.ErrorIs(t, err, ErrInvalidClient, "attempt %d", i+1)
	}

	req := validRequest(downstreamPKCE(t))
	req.ClientID = "made-up-next"
	_, err := f.authorizer.BeginAuthorization(ctx, req)
	assert.ErrorIs(t, err, ErrRateLimited, "fresh client ids do not reset the budget")

	_, err = f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	assert.NoError(t, err, "registered clients keep their own budget")
}

func TestAuthorizer_ConcurrentCompletionHasOneWinner(t *testing.T) {
	f := newAuthorizerFixture(t, nil)
	ctx := context.Background()

	redirect, err := f.authorizer.BeginAuthorization(ctx, validRequest(downstreamPKCE(t)))
	require.NoError(t, err)
	code, state, err := f.provider.ApproveAuthorizeURL(redirect)
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.authorizer.CompleteAuthorization(ctx, code, state)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrStateAlreadyUsed)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.provider.ExchangeCount(), "one upstream exchange")
}

func TestAuthorizer_AuthenticateClient(t *testing.T) {
	f := newAuthorizerFixture(t, nil)

	assert.NoError(t, f.authorizer.AuthenticateClient("backend", "backend-secret"))
	assert.ErrorIs(t, f.authorizer.AuthenticateClient("backend", "wrong"), ErrInvalidClient)
	assert.ErrorIs(t, f.authorizer.AuthenticateClient("backend", ""), ErrInvalidClient)
	assert.ErrorIs(t, f.authorizer.AuthenticateClient(testClientID, ""), ErrInvalidClient, "public clients cannot authenticate")
	assert.ErrorIs(t, f.authorizer.AuthenticateClient("stranger", "x"), ErrInvalidClient)
}
