// Package metrics owns the Prometheus collectors exported on /metrics. Every
// method is safe on a nil *Metrics so components can run without metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "easel"

// Metrics groups the easel collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	residentBoards prometheus.Gauge
	boardLoads     prometheus.Counter
	boardSaves     *prometheus.CounterVec
	sessions       prometheus.Gauge
	eventsAdmitted prometheus.Counter
	eventsRejected *prometheus.CounterVec
	eventsInvalid  prometheus.Counter
	handlerFaults  prometheus.Counter
}

// New registers the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		residentBoards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resident_boards",
			Help:      "Boards currently loaded in memory.",
		}),
		boardLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_loads_total",
			Help:      "Board loads from the store.",
		}),
		boardSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "board_saves_total",
			Help:      "Board saves on eviction, by result.",
		}, []string{"result"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Open client sessions.",
		}),
		eventsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_admitted_total",
			Help:      "Mutation events accepted by admission control.",
		}),
		eventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Mutation events rejected by admission control, by reason.",
		}, []string{"reason"}),
		eventsInvalid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_invalid_total",
			Help:      "Admitted mutation events rejected as invalid messages.",
		}),
		handlerFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_faults_total",
			Help:      "Unexpected faults recovered inside event handlers.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.residentBoards,
		m.boardLoads,
		m.boardSaves,
		m.sessions,
		m.eventsAdmitted,
		m.eventsRejected,
		m.eventsInvalid,
		m.handlerFaults,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// BoardLoaded records a store load leaving resident boards resident.
func (m *Metrics) BoardLoaded(resident int) {
	if m == nil {
		return
	}
	m.boardLoads.Inc()
	m.residentBoards.Set(float64(resident))
}

// BoardEvicted records an eviction and the result of its save.
func (m *Metrics) BoardEvicted(resident int, saveErr error) {
	if m == nil {
		return
	}
	result := "ok"
	if saveErr != nil {
		result = "error"
	}
	m.boardSaves.WithLabelValues(result).Inc()
	m.residentBoards.Set(float64(resident))
}

// SessionOpened increments the open session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// SessionClosed decrements the open session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessions.Dec()
}

// EventAdmitted counts an accepted mutation event.
func (m *Metrics) EventAdmitted() {
	if m == nil {
		return
	}
	m.eventsAdmitted.Inc()
}

// EventRejected counts a policy rejection.
func (m *Metrics) EventRejected(reason string) {
	if m == nil {
		return
	}
	m.eventsRejected.WithLabelValues(reason).Inc()
}

// EventInvalid counts an invalid message.
func (m *Metrics) EventInvalid() {
	if m == nil {
		return
	}
	m.eventsInvalid.Inc()
}

// HandlerFault counts a recovered handler panic.
func (m *Metrics) HandlerFault() {
	if m == nil {
		return
	}
	m.handlerFaults.Inc()
}
