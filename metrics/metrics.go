package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nicmeup"

// Metrics holds every collector the service exports.
type Metrics struct {
	Registry *prometheus.Registry

	QuestsBroadcast   prometheus.Counter
	QuestsNoOneNearby prometheus.Counter
	NotificationsSent prometheus.Counter
	PushFailures      prometheus.Counter
	SessionsClaimed   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsCanceled  prometheus.Counter
	CleanupDeleted    prometheus.Counter
	CleanupTimedOut   prometheus.Counter

	BroadcastDuration prometheus.Histogram

	LiveRendezvous prometheus.Gauge
}

// New registers a fresh set of collectors on their own registry.
func New() *Metrics {
	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		QuestsBroadcast:   counter("quest", "broadcast_total", "Quests broadcast."),
		QuestsNoOneNearby: counter("quest", "no_one_nearby_total", "Quests that reached nobody."),
		NotificationsSent: counter("push", "sent_total", "Push messages dispatched."),
		PushFailures:      counter("push", "failures_total", "Push messages that failed to send."),
		SessionsClaimed:   counter("session", "claimed_total", "Sessions claimed by a recipient."),
		SessionsCompleted: counter("session", "completed_total", "Sessions completed."),
		SessionsCanceled:  counter("session", "canceled_total", "Sessions canceled by a participant."),
		CleanupDeleted:    counter("cleanup", "deleted_total", "Sessions deleted by cleanup."),
		CleanupTimedOut:   counter("cleanup", "timed_out_total", "Sessions timed out by cleanup."),

		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "quest",
			Name:      "broadcast_duration_seconds",
			Help:      "Time spent evaluating candidates for a quest.",
			Buckets:   prometheus.DefBuckets,
		}),

		LiveRendezvous: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "live_rendezvous",
			Help:      "Rendezvous runs currently attached to a client.",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QuestsBroadcast,
		m.QuestsNoOneNearby,
		m.NotificationsSent,
		m.PushFailures,
		m.SessionsClaimed,
		m.SessionsCompleted,
		m.SessionsCanceled,
		m.CleanupDeleted,
		m.CleanupTimedOut,
		m.BroadcastDuration,
		m.LiveRendezvous,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
