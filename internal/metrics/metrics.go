// Package metrics holds the Prometheus collectors for the round and payment
// lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RoundsCreated     prometheus.Counter
	FeedbackSubmitted prometheus.Counter
	PaymentEvents     *prometheus.CounterVec
	FlowFailures      *prometheus.CounterVec
	ActiveAttempts    prometheus.Gauge
}

// New registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so registrations never collide.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RoundsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "anonfeedback",
			Name:      "rounds_created_total",
			Help:      "Feedback rounds created.",
		}),
		FeedbackSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "anonfeedback",
			Name:      "feedback_submitted_total",
			Help:      "Paid feedback entries appended to a round.",
		}),
		PaymentEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonfeedback",
			Name:      "payment_events_total",
			Help:      "Payment events received, by provider and event type.",
		}, []string{"provider", "type"}),
		FlowFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "anonfeedback",
			Name:      "flow_failures_total",
			Help:      "Feedback attempts that entered the failed state, by the state they failed from.",
		}, []string{"stage"}),
		ActiveAttempts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "anonfeedback",
			Name:      "attempts_active",
			Help:      "Feedback attempts currently held in memory.",
		}),
	}
}
