// Package metrics exposes signaling counters and gauges to prometheus.
package metrics

import (
	"github.com/dkeye/one2many/internal/app"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "one2many"

type Metrics struct {
	Connections      prometheus.Gauge
	Rejections       *prometheus.CounterVec
	Teardowns        *prometheus.CounterVec
	LifecycleDropped prometheus.Counter
}

// New registers the collectors with reg. Presenter and viewer gauges read
// the registry at scrape time.
func New(reg prometheus.Registerer, registry *app.Registry) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signal_connections",
			Help:      "Open signaling connections.",
		}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected presenter and viewer requests by reason.",
		}, []string{"reason"}),
		Teardowns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardowns_total",
			Help:      "Torn down sessions by role.",
		}, []string{"role"}),
		LifecycleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_events_dropped_total",
			Help:      "Lifecycle events dropped because the queue was full or closed.",
		}),
	}
	presenters := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "presenters",
		Help:      "Registered presenters, including those still negotiating.",
	}, func() float64 {
		p, _ := registry.Counts()
		return float64(p)
	})
	viewers := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "viewers",
		Help:      "Registered viewers.",
	}, func() float64 {
		_, v := registry.Counts()
		return float64(v)
	})
	reg.MustRegister(m.Connections, m.Rejections, m.Teardowns, m.LifecycleDropped, presenters, viewers)
	return m
}

func (m *Metrics) Rejected(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) TornDown(role string) {
	m.Teardowns.WithLabelValues(role).Inc()
}
