package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics holds the realtime counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	connections prometheus.Gauge
	inbound     *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	outbound    prometheus.Counter
	overflow    prometheus.Counter
	calls       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pelusa_ws_connections",
			Help: "Open websocket connections.",
		}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pelusa_ws_events_in_total",
			Help: "Inbound websocket events by name.",
		}, []string{"event"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pelusa_ws_events_dropped_total",
			Help: "Inbound events refused by the router, by reason.",
		}, []string{"reason"}),
		outbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pelusa_ws_frames_out_total",
			Help: "Frames queued to connections.",
		}),
		overflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pelusa_ws_frames_overflow_total",
			Help: "Frames dropped because a connection's send queue was full.",
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pelusa_calls_total",
			Help: "Call attempts by outcome.",
		}, []string{"outcome"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		m.connections, m.inbound, m.dropped, m.outbound, m.overflow, m.calls,
	)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) Inbound(event string) {
	if m != nil {
		m.inbound.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Queued(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.outbound.Inc()
	} else {
		m.overflow.Inc()
	}
}

func (m *Metrics) Call(outcome string) {
	if m != nil {
		m.calls.WithLabelValues(outcome).Inc()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	h := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return func(c *fiber.Ctx) error {
		h(c.Context())
		return nil
	}
}
