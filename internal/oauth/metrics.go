package oauth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the subsystem's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	authorizations  *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	reauthRequired  prometheus.Gauge
	storeFailures   *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		authorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetgate",
			Subsystem: "oauth",
			Name:      "authorizations_total",
			Help:      "Authorization steps by phase and outcome.",
		}, []string{"phase", "result"}),
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetgate",
			Subsystem: "oauth",
			Name:      "token_refreshes_total",
			Help:      "Upstream token refreshes by outcome.",
		}, []string{"result"}),
		refreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sheetgate",
			Subsystem: "oauth",
			Name:      "token_refresh_duration_seconds",
			Help:      "Time spent refreshing a token, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		reauthRequired: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sheetgate",
			Subsystem: "oauth",
			Name:      "reauth_required_principals",
			Help:      "Principals whose refresh token was rejected upstream.",
		}),
		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sheetgate",
			Subsystem: "oauth",
			Name:      "token_store_failures_total",
			Help:      "Encrypted token store failures by kind.",
		}, []string{"kind"}),
	}
}

func resultLabel(kind ErrorKind) string {
	if kind == "" {
		return "success"
	}
	return string(kind)
}

func (m *Metrics) authorizationResult(phase string, kind ErrorKind) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(phase, resultLabel(kind)).Inc()
}

func (m *Metrics) refreshResult(kind ErrorKind, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(resultLabel(kind)).Inc()
	m.refreshDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) setReauthRequired(n int) {
	if m == nil {
		return
	}
	m.reauthRequired.Set(float64(n))
}

func (m *Metrics) storeFailure(kind ErrorKind) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "io_error"
	}
	m.storeFailures.WithLabelValues(label).Inc()
}
