package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Start(StartStarted)
	m.Start(StartDuplicate)
	m.Start(StartStarted)
	m.Signal("approve", SignalDelivered)
	m.Signal("cancel", SignalSwallowed)
	m.Activity("ProcessPayment", ActivityExecuted)
	m.Activity("ProcessPayment", ActivitySkipped)

	require.Equal(t, 2.0, testutil.ToFloat64(m.starts.WithLabelValues(StartStarted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.starts.WithLabelValues(StartDuplicate)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.signals.WithLabelValues("cancel", SignalSwallowed)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.activities.WithLabelValues("ProcessPayment", ActivitySkipped)))

	n, err := testutil.GatherAndCount(reg, "order_approval_starts_total", "order_approval_signals_total")
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.Start(StartError)
		m.Signal("reject", SignalError)
		m.Activity("Notify", ActivityError)
	})
}
