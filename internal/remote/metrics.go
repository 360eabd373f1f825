package remote

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts remote operations. A nil *Metrics records nothing.
type Metrics struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	QueueDepth prometheus.Gauge
}

// NewMetrics registers the sync collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rollcall",
			Subsystem: "remote",
			Name:      "operations_total",
			Help:      "Remote store operations by backend, operation and outcome.",
		}, []string{"backend", "op", "outcome"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rollcall",
			Subsystem: "remote",
			Name:      "operation_duration_seconds",
			Help:      "Latency of remote store operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rollcall",
			Subsystem: "remote",
			Name:      "push_queue_depth",
			Help:      "Pushes waiting for the background worker.",
		}),
	}
}

func (m *Metrics) observe(backend, op string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Operations.WithLabelValues(backend, op, outcome).Inc()
	m.Duration.WithLabelValues(backend, op).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}
