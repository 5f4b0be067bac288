// Package metrics exposes Prometheus collectors for the sync engine. All methods
// are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Channel states reported by the channel_state gauge.
var channelStates = []string{"IDLE", "CONNECTING", "CONNECTED", "RECONNECTING", "CLOSED"}

// Metrics holds the collectors registered on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	channelState    *prometheus.GaugeVec
	reconnects      prometheus.Counter
	transportDrops  prometheus.Counter
	emitsDropped    *prometheus.CounterVec
	inboundEvents   *prometheus.CounterVec
	malformedFrames prometheus.Counter
	handlerErrors   *prometheus.CounterVec
	duplicates      prometheus.Counter
	anomalies       prometheus.Counter
	sends           *prometheus.CounterVec
	busDrops        prometheus.Counter
	restRequests    *prometheus.CounterVec
	breakerOpen     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		channelState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "duet_channel_state",
			Help: "Current push channel state (1 for the active state)",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_channel_reconnects_total",
			Help: "Successful reconnects after a transport drop",
		}),
		transportDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_channel_transport_drops_total",
			Help: "Mid-session transport disconnects",
		}),
		emitsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_channel_emits_dropped_total",
			Help: "Outbound events dropped because the channel was not connected",
		}, []string{"event"}),
		inboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_channel_inbound_events_total",
			Help: "Inbound events received from the gateway",
		}, []string{"event"}),
		malformedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_channel_malformed_frames_total",
			Help: "Inbound frames that could not be decoded",
		}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_channel_handler_errors_total",
			Help: "Inbound event handlers that failed or panicked",
		}, []string{"event"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_reconcile_duplicates_total",
			Help: "Duplicate message deliveries absorbed by the reconciler",
		}),
		anomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_reconcile_anomalies_total",
			Help: "Partial updates targeting unknown messages",
		}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_sends_total",
			Help: "Send attempts by outcome",
		}, []string{"outcome"}),
		busDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "duet_bus_dropped_events_total",
			Help: "Change notifications dropped for slow subscribers",
		}),
		restRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duet_rest_requests_total",
			Help: "REST requests by method and status class",
		}, []string{"method", "code"}),
		breakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duet_rest_breaker_open",
			Help: "1 while the REST circuit breaker is open",
		}),
	}
	m.Registry.MustRegister(
		m.channelState,
		m.reconnects,
		m.transportDrops,
		m.emitsDropped,
		m.inboundEvents,
		m.malformedFrames,
		m.handlerErrors,
		m.duplicates,
		m.anomalies,
		m.sends,
		m.busDrops,
		m.restRequests,
		m.breakerOpen,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ChannelState marks state as the active channel state.
func (m *Metrics) ChannelState(state string) {
	if m == nil {
		return
	}
	for _, s := range channelStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.channelState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) TransportDropped() {
	if m == nil {
		return
	}
	m.transportDrops.Inc()
}

func (m *Metrics) EmitDropped(event string) {
	if m == nil {
		return
	}
	m.emitsDropped.WithLabelValues(event).Inc()
}

func (m *Metrics) InboundEvent(event string) {
	if m == nil {
		return
	}
	m.inboundEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

func (m *Metrics) HandlerFailed(event string) {
	if m == nil {
		return
	}
	m.handlerErrors.WithLabelValues(event).Inc()
}

func (m *Metrics) DuplicateDelivery() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) ReconcileAnomaly() {
	if m == nil {
		return
	}
	m.anomalies.Inc()
}

// Send records a send outcome: emitted, not_connected, upload_failed or error.
func (m *Metrics) Send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) BusDrop() {
	if m == nil {
		return
	}
	m.busDrops.Inc()
}

// RESTRequest records a completed REST call. code is the HTTP status, or 0 for a
// transport error.
func (m *Metrics) RESTRequest(method string, code int) {
	if m == nil {
		return
	}
	m.restRequests.WithLabelValues(method, statusClass(code)).Inc()
}

func (m *Metrics) BreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
}

func statusClass(code int) string {
	switch {
	case code == 0:
		return "error"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
