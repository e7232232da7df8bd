// Package metrics exposes prometheus counters for connection and discovery
// adapters. All observer methods are safe on a nil *Metrics, so adapters call
// them unconditionally.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors updated by the adapters.
type Metrics struct {
	StateTransitions *prometheus.CounterVec
	SendsIssued      prometheus.Counter
	BatchesIssued    prometheus.Counter
	BytesSent        prometheus.Counter
	SendErrors       prometheus.Counter
	Receives         prometheus.Counter
	BytesReceived    prometheus.Counter
	ReceiveErrors    prometheus.Counter
	ServiceChanges   *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// A nil reg leaves them unregistered.
//
// Parameters:
//   - namespace: Prometheus namespace, e.g. "netstream"
//   - reg: Registerer to add the collectors to, or nil
//
// Returns:
//   - The Metrics, or an error if registration fails (e.g. duplicate names)
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_transitions_total",
			Help:      "Lifecycle states reported by connection primitives.",
		}, []string{"state"}),
		SendsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "sends_total",
			Help:      "Send operations handed to primitives, one per chunk.",
		}),
		BatchesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "batches_total",
			Help:      "Chunked batch sends.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "sent_bytes_total",
			Help:      "Bytes handed to primitives for sending.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "send_errors_total",
			Help:      "Send completions carrying a transport error.",
		}),
		Receives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "receives_total",
			Help:      "Receive completions delivered by primitives.",
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "received_bytes_total",
			Help:      "Bytes delivered by receive completions.",
		}),
		ReceiveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "receive_errors_total",
			Help:      "Receive completions that terminated the receive loop.",
		}),
		ServiceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discovery",
			Name:      "service_changes_total",
			Help:      "Browse result changes by kind.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.StateTransitions, m.SendsIssued, m.BatchesIssued, m.BytesSent, m.SendErrors,
		m.Receives, m.BytesReceived, m.ReceiveErrors, m.ServiceChanges,
	}
}

// ObserveState counts a lifecycle state.
func (m *Metrics) ObserveState(state string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
}

// ObserveSend counts one send of n bytes.
func (m *Metrics) ObserveSend(n int) {
	if m == nil {
		return
	}
	m.SendsIssued.Inc()
	m.BytesSent.Add(float64(n))
}

// ObserveSendResult counts a failed send completion.
func (m *Metrics) ObserveSendResult(err error) {
	if m == nil || err == nil {
		return
	}
	m.SendErrors.Inc()
}

// ObserveBatch counts one chunked batch send.
func (m *Metrics) ObserveBatch() {
	if m == nil {
		return
	}
	m.BatchesIssued.Inc()
}

// ObserveReceive counts one receive completion.
func (m *Metrics) ObserveReceive(n int, err error) {
	if m == nil {
		return
	}
	m.Receives.Inc()
	m.BytesReceived.Add(float64(n))
	if err != nil {
		m.ReceiveErrors.Inc()
	}
}

// ObserveServiceChange counts one discovery change of the given kind.
func (m *Metrics) ObserveServiceChange(kind string) {
	if m == nil {
		return
	}
	m.ServiceChanges.WithLabelValues(kind).Inc()
}
