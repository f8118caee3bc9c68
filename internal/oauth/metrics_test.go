package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.authorizationResult("begin", "")
	m.refreshResult(KindReauthRequired, time.Second)
	m.setReauthRequired(3)
	m.storeFailure("")
}

func TestMetrics_ManagerRecordsRefreshAndReauth(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var fail bool
	clock := newTestClock()
	upstream := &stubUpstream{refresh: func(_ context.Context, rt string) (*TokenPair, error) {
		if fail {
			return rejectedGrant(nil, rt)
		}
		now := clock.Now()
		return &TokenPair{AccessToken: "next", ObtainedAt: now, Expiry: now.Add(time.Hour)}, nil
	}}
	m, err := NewManager(ManagerConfig{
		Store:    newTestTokenStore(t),
		Upstream: upstream,
		Clock:    clock,
		Retry:    fastRetry,
		Metrics:  metrics,
	})
	require.NoError(t, err)
	require.NoError(t, m.StoreTokens(ctx, "alice", samplePair()))

	_, err = m.Refresh(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.refreshes.WithLabelValues("success")))

	fail = true
	_, err = m.Refresh(ctx, "alice")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.refreshes.WithLabelValues(string(KindReauthRequired))))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.reauthRequired))

	require.NoError(t, m.StoreTokens(ctx, "alice", samplePair()))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.reauthRequired))
}

func TestMetrics_AuthorizationResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	metrics.authorizationResult("begin", "")
	metrics.authorizationResult("begin", KindPkceRequired)
	metrics.authorizationResult("begin", KindPkceRequired)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.authorizations.WithLabelValues("begin", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.authorizations.WithLabelValues("begin", "pkce_required")))
}
