// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the control core's Prometheus collectors.
type Metrics struct {
	MessagesReceived     *prometheus.CounterVec
	ParseErrors          *prometheus.CounterVec
	Evaluations          *prometheus.CounterVec
	CommandsDispatched   *prometheus.CounterVec
	AcksMatched          prometheus.Counter
	AcksUnmatched        prometheus.Counter
	CommandTimeouts      prometheus.Counter
	HistoryWriteFailures prometheus.Counter

	registry *prometheus.Registry
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factorycore",
				Subsystem: "transport",
				Name:      "messages_received_total",
				Help:      "Transport messages received by kind",
			},
			[]string{"kind"},
		),
		ParseErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factorycore",
				Subsystem: "transport",
				Name:      "parse_errors_total",
				Help:      "Dropped transport messages by reason",
			},
			[]string{"reason"},
		),
		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factorycore",
				Subsystem: "rules",
				Name:      "evaluations_total",
				Help:      "Telemetry evaluations by overall status",
			},
			[]string{"status"},
		),
		CommandsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "factorycore",
				Subsystem: "commands",
				Name:      "dispatched_total",
				Help:      "Command dispatch attempts by outcome",
			},
			[]string{"outcome"},
		),
		AcksMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factorycore",
			Subsystem: "commands",
			Name:      "acks_matched_total",
			Help:      "Acknowledgements correlated to a pending command",
		}),
		AcksUnmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factorycore",
			Subsystem: "commands",
			Name:      "acks_unmatched_total",
			Help:      "Acknowledgements with no matching pending command",
		}),
		CommandTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factorycore",
			Subsystem: "commands",
			Name:      "timeouts_total",
			Help:      "Pending commands expired without an acknowledgement",
		}),
		HistoryWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "factorycore",
			Subsystem: "history",
			Name:      "write_failures_total",
			Help:      "Failed writes to the history store",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.MessagesReceived,
		m.ParseErrors,
		m.Evaluations,
		m.CommandsDispatched,
		m.AcksMatched,
		m.AcksUnmatched,
		m.CommandTimeouts,
		m.HistoryWriteFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
