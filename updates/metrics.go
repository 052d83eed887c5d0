package updates

import (
	"github.com/prometheus/client_golang/prometheus"
)

const resultSuccess = "success"

type metrics struct {
	checks  *prometheus.CounterVec
	updates *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "updatemanager",
			Name:      "checks_total",
			Help:      "Update checks by result.",
		}, []string{"result"}),
		updates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "updatemanager",
			Name:      "updates_total",
			Help:      "Update attempts by result.",
		}, []string{"result"}),
	}
}

func (m *metrics) observeCheck(err error) {
	m.checks.WithLabelValues(resultLabel(err)).Inc()
}

func (m *metrics) observeUpdate(err error) {
	m.updates.WithLabelValues(resultLabel(err)).Inc()
}

func (m *metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.checks, m.updates}
}

func resultLabel(err error) string {
	if err == nil {
		return resultSuccess
	}
	return KindOf(err).String()
}
