package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	actionsTotal      *prometheus.CounterVec
	refreshesTotal    *prometheus.CounterVec
	pollAttemptsTotal prometheus.Counter
	sessionConnected  prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	actions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rebasegate_actions_total",
		Help: "Contract actions submitted through the API",
	}, []string{"action", "status"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rebasegate_refresh_cycles_total",
		Help: "Balance refresh cycles, by outcome",
	}, []string{"status"})

	polls := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rebasegate_poll_attempts_total",
		Help: "Finality poll attempts against the RPC endpoint",
	})

	connected := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rebasegate_session_connected",
		Help: "1 while a wallet session is connected",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(actions, refreshes, polls, connected)

	return &metricsRegistry{
		registry:          r,
		actionsTotal:      actions,
		refreshesTotal:    refreshes,
		pollAttemptsTotal: polls,
		sessionConnected:  connected,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incAction(action, status string) {
	m.actionsTotal.WithLabelValues(action, status).Inc()
}

func (m *metricsRegistry) incRefresh(status string) {
	m.refreshesTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incPoll() {
	m.pollAttemptsTotal.Inc()
}

func (m *metricsRegistry) setConnected(connected bool) {
	if connected {
		m.sessionConnected.Set(1)
	} else {
		m.sessionConnected.Set(0)
	}
}
