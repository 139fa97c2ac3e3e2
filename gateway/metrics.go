package gateway

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type metrics struct {
	refreshes *prometheus.CounterVec
	replays   prometheus.Counter
	waiters   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crashapi",
			Subsystem: "gateway",
			Name:      "refreshes_total",
			Help:      "Token refresh calls by outcome.",
		}, []string{"outcome"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crashapi",
			Subsystem: "gateway",
			Name:      "replayed_requests_total",
			Help:      "Requests re-sent after a 401 with a refreshed access token.",
		}),
		waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crashapi",
			Subsystem: "gateway",
			Name:      "refresh_waiters",
			Help:      "Requests currently suspended behind an in-flight refresh.",
		}),
	}
	reg.MustRegister(m.refreshes, m.replays, m.waiters)
	return m
}
