package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder exposes realtime counters; a nil *Recorder records nothing
type Recorder struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	duplicateSessions prometheus.Counter
	messagesTotal     prometheus.Counter
	eventErrors       *prometheus.CounterVec
	eventLatency      *prometheus.HistogramVec
	callTransitions   *prometheus.CounterVec
	callRecords       *prometheus.CounterVec
}

// New registers the collectors on reg, or the default registerer if nil
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Recorder{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mentorline_connections_active",
			Help: "Current number of registered realtime connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorline_connections_total",
			Help: "Total number of connections registered since start.",
		}),
		duplicateSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorline_duplicate_sessions_total",
			Help: "Registrations refused because the identity was already connected.",
		}),
		messagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mentorline_chat_messages_total",
			Help: "Chat messages persisted and broadcast.",
		}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorline_event_errors_total",
			Help: "Inbound events rejected, grouped by error code.",
		}, []string{"code"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mentorline_event_latency_seconds",
			Help:    "Latency for handling inbound events.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"event"}),
		callTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorline_call_transitions_total",
			Help: "Call room state transitions.",
		}, []string{"from", "to"}),
		callRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mentorline_call_records_total",
			Help: "Call records written, split by whether an existing record was reused.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.duplicateSessions,
		m.messagesTotal,
		m.eventErrors,
		m.eventLatency,
		m.callTransitions,
		m.callRecords,
	)
	return m
}

func (m *Recorder) ConnectionRegistered() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Recorder) ConnectionUnregistered() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Recorder) DuplicateSession() {
	if m == nil {
		return
	}
	m.duplicateSessions.Inc()
}

func (m *Recorder) MessageSent() {
	if m == nil {
		return
	}
	m.messagesTotal.Inc()
}

func (m *Recorder) RecordError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "unknown"
	}
	m.eventErrors.WithLabelValues(code).Inc()
}

func (m *Recorder) ObserveEvent(event string, dur time.Duration) {
	if m == nil || event == "" {
		return
	}
	m.eventLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *Recorder) CallTransition(from, to string) {
	if m == nil {
		return
	}
	m.callTransitions.WithLabelValues(from, to).Inc()
}

func (m *Recorder) CallRecorded(reused bool) {
	if m == nil {
		return
	}
	result := "created"
	if reused {
		result = "reused"
	}
	m.callRecords.WithLabelValues(result).Inc()
}
