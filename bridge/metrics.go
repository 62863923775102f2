package bridge

import (
	"time"

	"github.com/davecheney/swarmdon/models"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what happens to pushes and deliveries.
type Metrics struct {
	pushes          *prometheus.CounterVec
	outcomes        *prometheus.CounterVec
	publishAttempts prometheus.Counter
	enrichFailures  prometheus.Counter
	publishLatency  prometheus.Histogram
}

// NewMetrics returns Metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmdon_pushes_total",
			Help: "Pushes received from Swarm, by the state they were acknowledged in.",
		}, []string{"state"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swarmdon_checkins_total",
			Help: "Checkins finalized, by outcome.",
		}, []string{"outcome"}),
		publishAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmdon_publish_attempts_total",
			Help: "Requests made to create a Mastodon status, including retries.",
		}),
		enrichFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swarmdon_enrich_failures_total",
			Help: "Checkins posted without details because Swarm could not be queried.",
		}),
		publishLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swarmdon_publish_latency_seconds",
			Help:    "Time taken to publish a checkin, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.pushes,
		m.outcomes,
		m.publishAttempts,
		m.enrichFailures,
		m.publishLatency,
	)
	return m
}

func (m *Metrics) push(state State) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) outcome(outcome models.CheckinOutcome) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) publishAttempt() {
	if m == nil {
		return
	}
	m.publishAttempts.Inc()
}

func (m *Metrics) enrichFailure() {
	if m == nil {
		return
	}
	m.enrichFailures.Inc()
}

func (m *Metrics) published(d time.Duration) {
	if m == nil {
		return
	}
	m.publishLatency.Observe(d.Seconds())
}
