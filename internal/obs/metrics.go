package obs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/die-net/handoff/internal/proxy"
)

// Metrics records session counters and latencies in Prometheus.
type Metrics struct {
	sessionsTotal  *prometheus.CounterVec
	sessionsActive prometheus.Gauge
	errorsTotal    *prometheus.CounterVec
	dialDuration   *prometheus.HistogramVec
	relayBytes     *prometheus.CounterVec
	relayDuration  prometheus.Histogram
}

var _ proxy.Observer = (*Metrics)(nil)

// NewMetrics registers handoff's metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_sessions_total",
			Help: "Finished sessions by intent; \"none\" if no target was resolved.",
		}, []string{"intent"}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "handoff_sessions_active",
			Help: "Sessions currently open.",
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_errors_total",
			Help: "Session errors by kind.",
		}, []string{"kind"}),
		dialDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handoff_dial_duration_seconds",
			Help:    "Time to connect to a destination.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"result"}),
		relayBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_relay_bytes_total",
			Help: "Bytes relayed by direction.",
		}, []string{"direction"}),
		relayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_relay_duration_seconds",
			Help:    "Relay lifetime.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}),
	}
}

func (m *Metrics) SessionOpened(proxy.SessionInfo) {
	m.sessionsActive.Inc()
}

func (m *Metrics) DialFinished(_ proxy.SessionInfo, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.dialDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

func (m *Metrics) SessionFailed(_ proxy.SessionInfo, err error) {
	m.errorsTotal.WithLabelValues(string(proxy.Classify(err))).Inc()
}

func (m *Metrics) RelayFinished(_ proxy.SessionInfo, stats proxy.RelayStats, err error) {
	m.relayBytes.WithLabelValues("upstream").Add(float64(stats.Upstream))
	m.relayBytes.WithLabelValues("downstream").Add(float64(stats.Downstream))
	m.relayDuration.Observe(stats.Duration.Seconds())
	if err != nil {
		m.errorsTotal.WithLabelValues(string(proxy.Classify(err))).Inc()
	}
}

func (m *Metrics) SessionClosed(info proxy.SessionInfo) {
	m.sessionsActive.Dec()

	intent := "none"
	if info.Target.Host != "" {
		intent = info.Intent.String()
	}
	m.sessionsTotal.WithLabelValues(intent).Inc()
}
