// Package metrics exposes Prometheus counters and gauges for the server and
// the client. Each set owns its registry so tests and multiple instances in
// one process do not collide on the default registerer.
//
// All recording methods are safe to call on a nil receiver.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sockpong"

// Handler exit reasons
const (
	ExitPeerClosed = "peer_closed"
	ExitIdle       = "idle_timeout"
	ExitShutdown   = "shutdown"
	ExitError      = "error"
	ExitPanic      = "panic"
)

// ServerMetrics tracks listener and handler activity.
type ServerMetrics struct {
	registry *prometheus.Registry

	ConnectionsTotal    prometheus.Counter
	ConnectionsActive   prometheus.Gauge
	ConnectionsRejected prometheus.Counter
	LinesReceived       prometheus.Counter
	RepliesSent         prometheus.Counter
	HandlerExits        *prometheus.CounterVec
	ShutdownNotices     prometheus.Counter
	AcceptErrors        prometheus.Counter
}

// NewServerMetrics creates the server metric set on a fresh registry
func NewServerMetrics() *ServerMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	sub := "server"

	return &ServerMetrics{
		registry: reg,
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "connections_total",
			Help: "Total connections accepted",
		}),
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "connections_active",
			Help: "Connections currently being served",
		}),
		ConnectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "connections_rejected_total",
			Help: "Connections closed immediately because the connection limit was reached",
		}),
		LinesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "lines_received_total",
			Help: "Complete lines read from clients",
		}),
		RepliesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "replies_sent_total",
			Help: "Pong replies written",
		}),
		HandlerExits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "handler_exits_total",
			Help: "Connection handler exits by reason",
		}, []string{"reason"}),
		ShutdownNotices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "shutdown_notices_total",
			Help: "Shutdown sentinels delivered to clients",
		}),
		AcceptErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "accept_errors_total",
			Help: "Accept failures other than the periodic timeout",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *ServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *ServerMetrics) Registry() *prometheus.Registry { return m.registry }

func (m *ServerMetrics) Accepted() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

func (m *ServerMetrics) Rejected() {
	if m == nil {
		return
	}
	m.ConnectionsRejected.Inc()
}

func (m *ServerMetrics) LineReceived() {
	if m == nil {
		return
	}
	m.LinesReceived.Inc()
}

func (m *ServerMetrics) ReplySent() {
	if m == nil {
		return
	}
	m.RepliesSent.Inc()
}

// HandlerExited decrements the active gauge and counts the exit reason
func (m *ServerMetrics) HandlerExited(reason string) {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
	m.HandlerExits.WithLabelValues(reason).Inc()
}

func (m *ServerMetrics) ShutdownNoticeSent() {
	if m == nil {
		return
	}
	m.ShutdownNotices.Inc()
}

func (m *ServerMetrics) AcceptError() {
	if m == nil {
		return
	}
	m.AcceptErrors.Inc()
}

// ClientMetrics tracks the connection manager.
type ClientMetrics struct {
	registry *prometheus.Registry

	ConnectAttempts *prometheus.CounterVec
	ReconnectCycles prometheus.Counter
	QueueDepth      prometheus.Gauge
	QueueDropped    prometheus.Counter
	MessagesSent    prometheus.Counter
	RepliesReceived prometheus.Counter
	ShutdownNotices prometheus.Counter
}

// NewClientMetrics creates the client metric set on a fresh registry
func NewClientMetrics() *ClientMetrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	sub := "client"

	return &ClientMetrics{
		registry: reg,
		ConnectAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "connect_attempts_total",
			Help: "Connection attempts by outcome",
		}, []string{"result"}),
		ReconnectCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "reconnect_cycles_total",
			Help: "Reconnect cycles started after losing the connection",
		}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "queue_depth",
			Help: "Messages waiting in the outbound queue",
		}),
		QueueDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "queue_dropped_total",
			Help: "Messages evicted or rejected by the bounded queue",
		}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "messages_sent_total",
			Help: "Messages written to the server",
		}),
		RepliesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "replies_received_total",
			Help: "Lines received from the server",
		}),
		ShutdownNotices: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub,
			Name: "shutdown_notices_total",
			Help: "Server shutdown sentinels received",
		}),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *ClientMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *ClientMetrics) Registry() *prometheus.Registry { return m.registry }

// ConnectAttempt counts one dial with result "ok" or the failure kind
func (m *ClientMetrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

func (m *ClientMetrics) ReconnectCycle() {
	if m == nil {
		return
	}
	m.ReconnectCycles.Inc()
}

func (m *ClientMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *ClientMetrics) Dropped() {
	if m == nil {
		return
	}
	m.QueueDropped.Inc()
}

func (m *ClientMetrics) Sent(n int) {
	if m == nil {
		return
	}
	m.MessagesSent.Add(float64(n))
}

func (m *ClientMetrics) ReplyReceived() {
	if m == nil {
		return
	}
	m.RepliesReceived.Inc()
}

func (m *ClientMetrics) ShutdownNotice() {
	if m == nil {
		return
	}
	m.ShutdownNotices.Inc()
}
