package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the server's Prometheus collectors. A nil *Metrics is
// valid and turns every recording method into a no-op, so tests can run
// without a registry.
type Metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	requestsTotal     *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
	replaysActive     prometheus.Gauge
	batchesTotal      prometheus.Counter
	framesOutTotal    prometheus.Counter
}

// New creates the collectors on a fresh registry, alongside the
// standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backsim_connections_active",
			Help: "Number of live WebSocket connections.",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backsim_requests_total",
			Help: "Requests dispatched, by method.",
		}, []string{"method"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backsim_request_errors_total",
			Help: "Error frames emitted, by code.",
		}, []string{"code"}),
		replaysActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "backsim_replays_active",
			Help: "Replays currently streaming.",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backsim_replay_batches_total",
			Help: "Replay batches streamed to clients.",
		}),
		framesOutTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backsim_frames_out_total",
			Help: "Frames written to transports.",
		}),
	}
	reg.MustRegister(
		m.connectionsActive,
		m.requestsTotal,
		m.errorsTotal,
		m.replaysActive,
		m.batchesTotal,
		m.framesOutTotal,
	)
	return m
}

// Handler serves the exposition endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ConnOpened records a new transport.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

// ConnClosed records a transport teardown.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// Request records a dispatched request.
func (m *Metrics) Request(method string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method).Inc()
}

// Error records an emitted error frame.
func (m *Metrics) Error(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}

// ReplayStarted marks a replay slot as claimed.
func (m *Metrics) ReplayStarted() {
	if m == nil {
		return
	}
	m.replaysActive.Inc()
}

// ReplayEnded releases a replay slot.
func (m *Metrics) ReplayEnded() {
	if m == nil {
		return
	}
	m.replaysActive.Dec()
}

// Batch records one streamed replay batch.
func (m *Metrics) Batch() {
	if m == nil {
		return
	}
	m.batchesTotal.Inc()
}

// FrameOut records one frame written to a transport.
func (m *Metrics) FrameOut() {
	if m == nil {
		return
	}
	m.framesOutTotal.Inc()
}
