package oauth

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sheetgate/internal/testing/mock"
	"sheetgate/pkg/logging"
)

var testEpoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

var testStateSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestClock() *mock.MockClock {
	return mock.NewMockClock(testEpoch)
}

// captureLogs routes package logging into a buffer for the duration of the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logging.InitForJSON(logging.LevelDebug, &buf)
	t.Cleanup(func() {
		logging.InitForCLI(logging.LevelError, io.Discard)
	})
	return &buf
}

// startProvider runs the mock identity provider and returns an upstream
// pointed at it. Both share clock.
func startProvider(t *testing.T, clock *mock.MockClock, cfg mock.OAuthServerConfig) (*mock.OAuthServer, *OAuth2Upstream) {
	t.Helper()
	if cfg.ClientID == "" {
		cfg.ClientID = "gateway"
	}
	cfg.Clock = clock
	provider := mock.NewOAuthServer(cfg)
	require.NoError(t, provider.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Stop(ctx)
	})

	upstream := NewOAuth2Upstream(UpstreamOptions{
		Provider:     "custom",
		AuthURL:      provider.GetAuthorizeURL(),
		TokenURL:     provider.GetTokenURL(),
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  "http://127.0.0.1:8080/oauth/callback",
		Timeout:      5 * time.Second,
		Clock:        clock,
	})
	return provider, upstream
}

// stubUpstream is a scripted Upstream for lifecycle tests.
type stubUpstream struct {
	refresh func(ctx context.Context, refreshToken string) (*TokenPair, error)
}

func (s *stubUpstream) AuthCodeURL(state, codeChallenge string, scopes []string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (s *stubUpstream) Exchange(context.Context, string, string) (*TokenPair, error) {
	return nil, newError(KindCodeExchangeFailed, "not scripted", nil)
}

func (s *stubUpstream) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.refresh(ctx, refreshToken)
}
