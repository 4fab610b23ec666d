package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cellsync"

// Metrics owns one prometheus registry and every collector the node records into.
// It is created once at process start and passed by handle. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	messages      *prometheus.CounterVec
	messageBytes  *prometheus.CounterVec
	sendErrors    *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	connected     *prometheus.GaugeVec
	anomalies     *prometheus.CounterVec
	escalations   *prometheus.CounterVec
	throttled     prometheus.Gauge
	applied       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	rtt           prometheus.Histogram
	tickDuration  prometheus.Histogram
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	rejectedConns prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "messages_total",
				Help:      "Framed messages by direction and type.",
			},
			[]string{"direction", "type"},
		),
		messageBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "bytes_total",
				Help:      "Framed bytes by direction.",
			},
			[]string{"direction"},
		),
		sendErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "send_errors_total",
				Help:      "Failed sends by role and reason.",
			},
			[]string{"role", "reason"},
		),
		disconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "disconnects_total",
				Help:      "Session terminations by role and reason.",
			},
			[]string{"role", "reason"},
		),
		connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "connected",
				Help:      "1 while the transport of the given role is connected.",
			},
			[]string{"role"},
		),
		rejectedConns: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "rejected_connections_total",
				Help:      "Inbound connections closed because a session was already active.",
			},
		),
		anomalies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "anomalies_total",
				Help:      "Abnormal inbound messages by kind.",
			},
			[]string{"kind"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "escalations_total",
				Help:      "Monitor actions by kind (warn, throttle, clear).",
			},
			[]string{"action"},
		),
		throttled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "monitor",
				Name:      "throttled_peers",
				Help:      "Peers currently throttled.",
			},
		),
		applied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "netplay",
				Name:      "applied_total",
				Help:      "Remote messages applied to the mirror entity.",
			},
			[]string{"kind"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "netplay",
				Name:      "dropped_total",
				Help:      "Remote messages dropped by reason.",
			},
			[]string{"reason"},
		),
		rtt: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "netplay",
				Name:      "rtt_seconds",
				Help:      "Ping round trip time.",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "node",
				Name:      "tick_duration_seconds",
				Help:      "Time spent in one simulation tick.",
				Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025},
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"node", "method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node", "method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages,
		m.messageBytes,
		m.sendErrors,
		m.disconnects,
		m.connected,
		m.rejectedConns,
		m.anomalies,
		m.escalations,
		m.throttled,
		m.applied,
		m.dropped,
		m.rtt,
		m.tickDuration,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves this handle's registry only.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordMessage(direction, msgType string, frameBytes int) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(direction, msgType).Inc()
	m.messageBytes.WithLabelValues(direction).Add(float64(frameBytes))
}

func (m *Metrics) RecordSendError(role, reason string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(role, reason).Inc()
}

func (m *Metrics) RecordDisconnect(role, reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(role, reason).Inc()
}

func (m *Metrics) SetConnected(role string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(role).Set(v)
}

func (m *Metrics) RecordRejectedConn() {
	if m == nil {
		return
	}
	m.rejectedConns.Inc()
}

func (m *Metrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordEscalation(action string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(action).Inc()
}

func (m *Metrics) SetThrottledPeers(n int) {
	if m == nil {
		return
	}
	m.throttled.Set(float64(n))
}

func (m *Metrics) RecordApplied(kind string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveRTT(d time.Duration) {
	if m == nil {
		return
	}
	m.rtt.Observe(d.Seconds())
}

func (m *Metrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
