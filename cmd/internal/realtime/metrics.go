package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "courier"

// Metrics holds the realtime collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessionsActive     prometheus.Gauge
	sessionsSuperseded prometheus.Counter
	pushDropped        *prometheus.CounterVec
	messagesCreated    prometheus.Counter
	statusTransitions  *prometheus.CounterVec
	opFailures         *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them on reg (when non-nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "sessions_active",
			Help:      "Identities with a registered live session.",
		}),
		sessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "sessions_superseded_total",
			Help:      "Sessions replaced by a newer connection for the same identity.",
		}),
		pushDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "realtime",
			Name:      "push_dropped_total",
			Help:      "Push events dropped because the session queue was full or closing.",
		}, []string{"type"}),
		messagesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "delivery",
			Name:      "messages_created_total",
			Help:      "Messages persisted with status sent.",
		}),
		statusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "delivery",
			Name:      "status_transitions_total",
			Help:      "Persisted forward status transitions.",
		}, []string{"to", "path"}),
		opFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "delivery",
			Name:      "failures_total",
			Help:      "Delivery operations that failed, by operation and error kind.",
		}, []string{"op", "kind"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.sessionsActive,
			m.sessionsSuperseded,
			m.pushDropped,
			m.messagesCreated,
			m.statusTransitions,
			m.opFailures,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

func (m *Metrics) superseded() {
	if m == nil {
		return
	}
	m.sessionsSuperseded.Inc()
}

func (m *Metrics) dropped(typ string) {
	if m == nil {
		return
	}
	m.pushDropped.WithLabelValues(typ).Inc()
}

func (m *Metrics) created() {
	if m == nil {
		return
	}
	m.messagesCreated.Inc()
}

func (m *Metrics) transitioned(to Status, path string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.statusTransitions.WithLabelValues(string(to), path).Add(float64(n))
}

func (m *Metrics) failed(op string, err error) {
	if m == nil || err == nil {
		return
	}
	kind := "other"
	switch {
	case IsInvalidPayload(err):
		kind = ErrInvalidPayload.Error()
	case IsInvalidReference(err):
		kind = ErrInvalidReference.Error()
	case IsStorageUnavailable(err):
		kind = ErrStorageUnavailable.Error()
	}
	m.opFailures.WithLabelValues(op, kind).Inc()
}
