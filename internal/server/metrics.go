package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the WebSocket front end. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connections   prometheus.Gauge
	connectsTotal prometheus.Counter
	framesTotal   *prometheus.CounterVec // By direction (in/out) and kind (request/response/notification)
	dropped       prometheus.Counter     // Notifications overwritten in a full outbox
}

// NewMetrics creates the server metrics and registers them with reg. A nil
// registerer disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webble",
			Subsystem: "server",
			Name:      "connections",
			Help:      "Open WebSocket connections",
		}),
		connectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "server",
			Name:      "connects_total",
			Help:      "Total number of accepted WebSocket connections",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "server",
			Name:      "frames_total",
			Help:      "WebSocket frames by direction and kind",
		}, []string{"direction", "kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "server",
			Name:      "notifications_dropped_total",
			Help:      "Notifications overwritten before they could be written to a slow client",
		}),
	}

	for _, c := range []prometheus.Collector{m.connections, m.connectsTotal, m.framesTotal, m.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connectsTotal.Inc()
	m.connections.Inc()
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) recordFrame(direction, kind string) {
	if m == nil {
		return
	}
	m.framesTotal.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) recordDropped(n uint32) {
	if m == nil || n == 0 {
		return
	}
	m.dropped.Add(float64(n))
}
