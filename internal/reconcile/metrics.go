package reconcile

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts webhook deliveries by type and outcome. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Deliveries *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Swept      prometheus.Counter
}

// NewMetrics registers the collectors with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "uplas",
			Subsystem: "payments",
			Name:      "webhook_deliveries_total",
			Help:      "Provider webhook deliveries by event type, outcome and response status.",
		}, []string{"event_type", "outcome", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "uplas",
			Subsystem: "payments",
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling provider webhooks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		Swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "uplas",
			Subsystem: "payments",
			Name:      "webhook_events_swept_total",
			Help:      "Replay records removed after the retention window.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Deliveries, m.Duration, m.Swept)
	}
	return m
}

func (m *Metrics) observe(res Result, d time.Duration) {
	if m == nil {
		return
	}
	eventType := res.EventType
	if eventType == "" {
		eventType = "unknown"
	}
	m.Deliveries.WithLabelValues(eventType, string(res.Outcome), strconv.Itoa(res.Status)).Inc()
	m.Duration.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Metrics) swept(n int64) {
	if m != nil && n > 0 {
		m.Swept.Add(float64(n))
	}
}
