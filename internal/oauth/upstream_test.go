package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sheetgate/internal/testing/mock"
	pkgoauth "sheetgate/pkg/oauth"
)

func TestOAuth2Upstream_AuthCodeURL(t *testing.T) {
	u := NewOAuth2Upstream(UpstreamOptions{
		ClientID:    "gateway",
		RedirectURL: "https://gw.example.com/oauth/callback",
	})

	raw := u.AuthCodeURL("payload:sig", "challenge", ScopeModeStandard.Scopes())
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, "accounts.google.com", parsed.Host)
	assert.Equal(t, "payload:sig", q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "challenge", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, ScopeModeStandard.Scopes(), strings.Fields(q.Get("scope")))
}

func TestOAuth2Upstream_ExchangeAndRefresh(t *testing.T) {
	clock := newTestClock()
	provider, upstream := startProvider(t, clock, mock.OAuthServerConfig{RotateRefreshTokens: true})

	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)
	provider.SetIdentity("sub-alice", "alice@example.com")
	code := provider.GenerateAuthCode("gateway", "", "openid email "+googleScopePrefix+"spreadsheets", pkce.CodeChallenge, "S256")

	pair, err := upstream.Exchange(context.Background(), code, pkce.CodeVerifier)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, []string{googleScopePrefix + "spreadsheets"}, pair.Scopes, "identity scopes are not stored")
	assert.Equal(t, "sub-alice", pair.Subject)
	assert.Equal(t, "alice@example.com", pair.Email)
	assert.Equal(t, testEpoch, pair.ObtainedAt)
	assert.WithinDuration(t, testEpoch.Add(time.Hour), pair.Expiry, 2*time.Second)

	refreshed, err := upstream.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, refreshed.RefreshToken, "rotated refresh token is kept")
}

func TestOAuth2Upstream_ExchangeWithoutIDToken(t *testing.T) {
	provider, upstream := startProvider(t, newTestClock(), mock.OAuthServerConfig{OmitIDToken: true})
	pkce, err := pkgoauth.GeneratePKCE()
	require.NoError(t, err)
	code := provider.GenerateAuthCode("gateway", "", "openid email", pkce.CodeChallenge, "S256")

	pair, err := upstream.Exchange(context.Background(), code, pkce.CodeVerifier)
	require.NoError(t, err)
	assert.Empty(t, pair.Subject)
	assert.Empty(t, pair.Email)
}

func TestOAuth2Upstream_RefreshKeepsTokenWhenOmitted(t *testing.T) {
	provider, upstream := startProvider(t, newTestClock(), mock.OAuthServerConfig{})
	provider.IssueRefreshToken("rt-stable", "openid")

	pair, err := upstream.Refresh(context.Background(), "rt-stable")
	require.NoError(t, err)
	assert.Equal(t, "rt-stable", pair.RefreshToken)
}

func TestOAuth2Upstream_ErrorClassification(t *testing.T) {
	ctx := context.Background()
	provider, upstream := startProvider(t, newTestClock(), mock.OAuthServerConfig{})

	t.Run("wrong verifier fails the exchange", func(t *testing.T) {
		code := provider.GenerateAuthCode("gateway", "", "openid", pkgoauth.S256Challenge("right"), "S256")
		_, err := upstream.Exchange(ctx, code, "wrong")
		assert.ErrorIs(t, err, ErrCodeExchangeFailed)
	})

	t.Run("invalid_grant on refresh requires reauth", func(t *testing.T) {
		_, err := upstream.Refresh(ctx, "unknown-refresh-token")
		assert.ErrorIs(t, err, ErrReauthRequired)
	})

	t.Run("server errors are transient", func(t *testing.T) {
		provider.SetSimulation(mock.OAuthErrorSimulation{ServerError: true})
		defer provider.SetSimulation(mock.OAuthErrorSimulation{})

		_, err := upstream.Refresh(ctx, "anything")
		assert.ErrorIs(t, err, ErrUpstreamTransientError)
		assert.False(t, errors.Is(err, errUpstreamRejected))

		_, err = upstream.Exchange(ctx, "code", "verifier")
		assert.ErrorIs(t, err, ErrUpstreamTransientError)
	})

	t.Run("unreachable provider is transient", func(t *testing.T) {
		dead := NewOAuth2Upstream(UpstreamOptions{
			Provider: "custom",
			AuthURL:  "http://127.0.0.1:1/authorize",
			TokenURL: "http://127.0.0.1:1/token",
			ClientID: "gateway",
			Timeout:  time.Second,
		})
		_, err := dead.Refresh(ctx, "rt")
		assert.ErrorIs(t, err, ErrUpstreamTransientError)
	})
}

func TestClassifyUpstreamError(t *testing.T) {
	retrieve := func(status int, code string) error {
		return &oauth2.RetrieveError{
			Response:  &http.Response{StatusCode: status},
			Body:      []byte(`{"error":"` + code + `","secret":"do-not-copy"}`),
			ErrorCode: code,
		}
	}

	tests := []struct {
		name         string
		err          error
		rejectedKind ErrorKind
		wantKind     ErrorKind
		wantRejected bool
	}{
		{"invalid_grant on refresh", retrieve(400, "invalid_grant"), KindReauthRequired, KindReauthRequired, false},
		{"invalid_grant on exchange", retrieve(400, "invalid_grant"), KindCodeExchangeFailed, KindCodeExchangeFailed, false},
		{"503", retrieve(503, "temporarily_unavailable"), KindReauthRequired, KindUpstreamTransientError, false},
		{"429", retrieve(429, "slow_down"), KindReauthRequired, KindUpstreamTransientError, false},
		{"other 4xx on exchange", retrieve(401, "invalid_client"), KindCodeExchangeFailed, KindCodeExchangeFailed, false},
		{"other 4xx on refresh", retrieve(401, "invalid_client"), KindReauthRequired, KindUpstreamTransientError, true},
		{"network", errors.New("dial tcp: connection refused"), KindReauthRequired, KindUpstreamTransientError, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyUpstreamError(tc.err, tc.rejectedKind, "rejected")
			assert.Equal(t, tc.wantKind, KindOf(err))
			assert.Equal(t, tc.wantRejected, errors.Is(err, errUpstreamRejected))
			assert.NotContains(t, err.Error(), "do-not-copy")
		})
	}
}
