package bridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for bridge traffic. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Native command traffic
	commandsTotal   *prometheus.CounterVec   // By command and status (ok/native_error/transmit_error/canceled/closed)
	commandDuration *prometheus.HistogramVec // By command
	pending         prometheus.Gauge

	// Inbound messages
	inboundTotal *prometheus.CounterVec // By type and outcome (delivered/dropped)

	// Routing state
	subscriptions    prometheus.Gauge
	discoveryWaiters prometheus.Gauge
	scansTotal       prometheus.Counter
	cacheLookups     *prometheus.CounterVec // By result (hit/miss)
}

// NewMetrics creates the bridge metrics and registers them with reg. A nil
// registerer disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Total number of commands sent to the native host",
		}, []string{"command", "status"}),

		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Time from transmit to native reply",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"command"}),

		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "pending_requests",
			Help:      "Commands awaiting a native reply",
		}),

		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "inbound_messages_total",
			Help:      "Total number of messages received from the native host",
		}, []string{"type", "outcome"}),

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "subscriptions",
			Help:      "Registered notification subscriptions",
		}),

		discoveryWaiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "discovery_waiters",
			Help:      "Device requests waiting for a matching scan result",
		}),

		scansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "scans_total",
			Help:      "Total number of scans started",
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webble",
			Subsystem: "bridge",
			Name:      "characteristic_cache_lookups_total",
			Help:      "Characteristic cache lookups by result",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.commandsTotal,
		m.commandDuration,
		m.pending,
		m.inboundTotal,
		m.subscriptions,
		m.discoveryWaiters,
		m.scansTotal,
		m.cacheLookups,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) recordCommand(command, status string, started time.Time) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, status).Inc()
	if status == "ok" || status == "native_error" {
		m.commandDuration.WithLabelValues(command).Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) recordInbound(msgType, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) setSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

func (m *Metrics) setDiscoveryWaiters(n int) {
	if m == nil {
		return
	}
	m.discoveryWaiters.Set(float64(n))
}

func (m *Metrics) recordScan() {
	if m == nil {
		return
	}
	m.scansTotal.Inc()
}

func (m *Metrics) recordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
