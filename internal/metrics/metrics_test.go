package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nainya/revertstore/pkg/revert"
	"github.com/nainya/revertstore/pkg/version"
)

func TestObserveRevert(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.ObserveRevert(revert.Outcome{Status: revert.StatusSuccess, Affected: 3}, time.Millisecond)
	m.ObserveRevert(revert.Outcome{Status: revert.StatusDenied, Reason: revert.NoAccess}, time.Millisecond)
	m.ObserveRevert(revert.Outcome{Status: revert.StatusFailed, Failure: version.ConcurrentModification}, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevertsTotal.WithLabelValues("SUCCESS", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevertsTotal.WithLabelValues("DENIED", "NO_ACCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RevertsTotal.WithLabelValues("FAILED", "CONCURRENT_MODIFICATION")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CascadeSize))
}

func TestRecordRequests(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordGrpcRequest("Execute", "success", time.Millisecond)
	m.RecordGrpcRequest("Execute", "error", time.Millisecond)
	m.RecordStoreOperation("rollback", "success", time.Millisecond)
	m.SetWorkflowsActive(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrpcRequestsTotal.WithLabelValues("Execute", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("rollback", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkflowsActive))
}

func TestNewMetricsRegistry(t *testing.T) {
	m := NewMetrics()
	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["revertstore_server_uptime_seconds"])
}

func TestRunUptime(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())
	done := make(chan struct{})
	go m.RunUptime(done, time.Millisecond)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ServerUptimeSeconds) > 0
	}, time.Second, 5*time.Millisecond)
	close(done)
}
