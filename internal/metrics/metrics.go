// Package metrics exposes Prometheus collectors for the support desk.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "supportdesk"

// Metrics groups every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	networkStatus    prometheus.Gauge
	queueSize        prometheus.Gauge
	queueSends       *prometheus.CounterVec
	sessionsCreated  prometheus.Counter
	messages         *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	handoffs         *prometheus.CounterVec
	broadcastClients prometheus.Gauge
	broadcastSent    *prometheus.CounterVec
	broadcastEvicted prometheus.Counter
}

var (
	globalOnce sync.Once
	globalInst *Metrics
)

// Global returns the process-wide collectors registered with the default registry.
func Global() *Metrics {
	globalOnce.Do(func() {
		globalInst = New(prometheus.DefaultRegisterer)
	})
	return globalInst
}

// New registers a fresh set of collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		networkStatus: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "online",
			Help:      "Reachability as last observed: 1 online, 0 offline, -1 unknown",
		}),
		queueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "size",
			Help:      "Outbound messages waiting in the delivery queue",
		}),
		queueSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "sends_total",
			Help:      "Queued message delivery attempts, labeled by result",
		}, []string{"result"}),
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "sessions_created_total",
			Help:      "Chat sessions opened",
		}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Messages appended to sessions, labeled by sender",
		}, []string{"sender"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "resolutions_total",
			Help:      "Replies produced by the resolution engine, labeled by path",
		}, []string{"path"}),
		handoffs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handoff",
			Name:      "requests_total",
			Help:      "Handoff requests, labeled by outcome",
		}, []string{"outcome"}),
		broadcastClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "clients",
			Help:      "Connected broadcast clients",
		}),
		broadcastSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "messages_total",
			Help:      "Envelopes delivered to clients, labeled by type",
		}, []string{"type"}),
		broadcastEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "evictions_total",
			Help:      "Clients dropped for missing a heartbeat",
		}),
	}
}

// SetNetworkStatus records the latest reachability: 1 online, 0 offline, -1 unknown.
func (m *Metrics) SetNetworkStatus(v float64) {
	if m == nil {
		return
	}
	m.networkStatus.Set(v)
}

func (m *Metrics) SetQueueSize(n int) {
	if m == nil {
		return
	}
	m.queueSize.Set(float64(n))
}

func (m *Metrics) RecordQueueSend(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.queueSends.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordSession() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) RecordMessage(sender string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(sender).Inc()
}

func (m *Metrics) RecordResolution(path string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(path).Inc()
}

func (m *Metrics) RecordHandoff(outcome string) {
	if m == nil {
		return
	}
	m.handoffs.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetBroadcastClients(n int) {
	if m == nil {
		return
	}
	m.broadcastClients.Set(float64(n))
}

func (m *Metrics) RecordBroadcast(kind string, deliveries int) {
	if m == nil || deliveries == 0 {
		return
	}
	m.broadcastSent.WithLabelValues(kind).Add(float64(deliveries))
}

func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.broadcastEvicted.Inc()
}
