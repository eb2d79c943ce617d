package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the orchestrator's Prometheus collectors.
type Metrics struct {
	sessions    *prometheus.CounterVec
	transferred *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg, if non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blflash_sessions_total",
			Help: "Number of dump, flash and check operations by result.",
		}, []string{"op", "result"}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blflash_transferred_bytes_total",
			Help: "Bytes moved to or from a device by successful operations.",
		}, []string{"op"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "blflash_session_duration_seconds",
			Help:    "Duration of dump, flash and check operations.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(m.sessions, m.transferred, m.duration)
	}

	return m
}

func (m *Metrics) observe(op string, bytes int, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = KindOf(err).String()
	}

	m.sessions.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())

	if err == nil {
		m.transferred.WithLabelValues(op).Add(float64(bytes))
	}
}
