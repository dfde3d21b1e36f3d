package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRoutes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "persona_bot",
		Name:      "messages_routed_total",
		Help:      "Inbound messages by the dispatch stage that answered them.",
	}, []string{"route"})
	metricCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "persona_bot",
		Name:      "reply_cache_lookups_total",
		Help:      "Reply cache lookups by result.",
	}, []string{"result"})
	metricBackendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "persona_bot",
		Name:      "backend_failures_total",
		Help:      "Replies that fell back because the generation backend failed.",
	})
	metricSwitches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "persona_bot",
		Name:      "persona_switches_total",
		Help:      "Persona switches by trigger type.",
	}, []string{"trigger"})
	// RemindersFired is incremented by the reminder service hook.
	RemindersFired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "persona_bot",
		Name:      "reminders_fired_total",
		Help:      "Reminders delivered to users.",
	})
)

func recordRoute(route string) {
	metricRoutes.WithLabelValues(route).Inc()
}

func recordCache(hit bool) {
	if hit {
		metricCache.WithLabelValues("hit").Inc()
		return
	}
	metricCache.WithLabelValues("miss").Inc()
}

func recordBackendFailure() {
	metricBackendFailures.Inc()
}

func recordSwitch(trigger string) {
	metricSwitches.WithLabelValues(trigger).Inc()
}
