package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "order_approval"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	starts     *prometheus.CounterVec
	signals    *prometheus.CounterVec
	activities *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		starts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "starts_total",
			Help:      "Order approval instances start requests by result.",
		}, []string{"result"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_total",
			Help:      "Decision signals and cancellations sent to instances by kind and result.",
		}, []string{"kind", "result"}),
		activities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_runs_total",
			Help:      "Fulfillment activity executions by activity and result.",
		}, []string{"activity", "result"}),
	}
}

// Start results.
const (
	StartStarted   = "started"
	StartDuplicate = "duplicate"
	StartError     = "error"
)

// Signal results.
const (
	SignalDelivered = "delivered"
	SignalSwallowed = "swallowed"
	SignalUnknown   = "unknown_order"
	SignalError     = "error"
)

// Activity results.
const (
	ActivityExecuted = "executed"
	ActivitySkipped  = "skipped"
	ActivityError    = "error"
)

func (m *Metrics) Start(result string) {
	if m == nil {
		return
	}
	m.starts.WithLabelValues(result).Inc()
}

func (m *Metrics) Signal(kind, result string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) Activity(activity, result string) {
	if m == nil {
		return
	}
	m.activities.WithLabelValues(activity, result).Inc()
}
