// File: metrics/metrics.go
// Package metrics exposes the server's prometheus instrumentation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector aggregates the session-engine counters. A nil *Collector is
// valid and turns every method into a no-op, so protocol-level code can be
// tested without a registry.
type Collector struct {
	sessionsTotal  prometheus.Counter
	sessionsActive prometheus.Gauge
	messagesTotal  *prometheus.CounterVec
	framingErrors  *prometheus.CounterVec
	bytesTotal     *prometheus.CounterVec
	timeoutsTotal  prometheus.Counter
}

// New builds a collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdpserve_sessions_total",
			Help: "Accepted connections",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cdpserve_sessions_active",
			Help: "Sessions currently running",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdpserve_messages_total",
			Help: "Decoded WebSocket messages",
		}, []string{"type"}),
		framingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdpserve_framing_errors_total",
			Help: "Framing errors by kind",
		}, []string{"kind"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdpserve_bytes_total",
			Help: "Bytes moved over control sockets",
		}, []string{"direction"}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cdpserve_timeouts_total",
			Help: "Sessions ended by inactivity timeout",
		}),
	}
	reg.MustRegister(c.sessionsTotal, c.sessionsActive, c.messagesTotal,
		c.framingErrors, c.bytesTotal, c.timeoutsTotal)
	return c
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.sessionsActive.Dec()
}

func (c *Collector) MessageDecoded(typ string) {
	if c == nil {
		return
	}
	c.messagesTotal.WithLabelValues(typ).Inc()
}

func (c *Collector) FramingError(kind string) {
	if c == nil {
		return
	}
	c.framingErrors.WithLabelValues(kind).Inc()
}

func (c *Collector) AddBytes(direction string, n int) {
	if c == nil {
		return
	}
	c.bytesTotal.WithLabelValues(direction).Add(float64(n))
}

func (c *Collector) Timeout() {
	if c == nil {
		return
	}
	c.timeoutsTotal.Inc()
}
