// Package metrics provides Prometheus metrics for revertstore
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/revertstore/pkg/revert"
)

// Metrics holds all Prometheus metrics for revertstore
type Metrics struct {
	Registry *prometheus.Registry

	// gRPC request metrics
	GrpcRequestsTotal    *prometheus.CounterVec
	GrpcRequestDuration  *prometheus.HistogramVec
	GrpcRequestsInFlight prometheus.Gauge

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Revert metrics
	RevertsTotal   *prometheus.CounterVec
	RevertDuration prometheus.Histogram
	CascadeSize    prometheus.Histogram

	// Workflow metrics
	WorkflowsActive prometheus.Gauge

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates all metrics on a fresh registry that also carries the
// Go runtime and process collectors
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewMetricsWith(reg)
}

// NewMetricsWith creates and registers all metrics on reg
func NewMetricsWith(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		Registry:        reg,
		ServerStartTime: time.Now(),
	}

	// gRPC request metrics
	m.GrpcRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revertstore_grpc_requests_total",
			Help: "Total number of gRPC requests",
		},
		[]string{"method", "status"},
	)

	m.GrpcRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revertstore_grpc_request_duration_seconds",
			Help:    "Duration of gRPC requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	m.GrpcRequestsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "revertstore_grpc_requests_in_flight",
			Help: "Number of gRPC requests currently being processed",
		},
	)

	// Store metrics
	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revertstore_store_operations_total",
			Help: "Total number of version store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "revertstore_store_operation_duration_seconds",
			Help:    "Duration of version store operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	// Revert metrics
	m.RevertsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revertstore_reverts_total",
			Help: "Total number of revert attempts by status and reason or failure code",
		},
		[]string{"status", "code"},
	)

	m.RevertDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revertstore_revert_duration_seconds",
			Help:    "Duration of revert executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.CascadeSize = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "revertstore_revert_cascade_records",
			Help:    "Number of records written by a successful revert",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50},
		},
	)

	m.WorkflowsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "revertstore_workflows_active",
			Help: "Number of records currently under an approval workflow",
		},
	)

	// Server metrics
	m.ServerUptimeSeconds = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "revertstore_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	return m
}

// RunUptime updates the uptime gauge every interval until done is closed
func (m *Metrics) RunUptime(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
		}
	}
}

// RecordGrpcRequest records a gRPC request with its status
func (m *Metrics) RecordGrpcRequest(method string, status string, duration time.Duration) {
	m.GrpcRequestsTotal.WithLabelValues(method, status).Inc()
	m.GrpcRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordStoreOperation records a version store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetWorkflowsActive updates the active workflow gauge
func (m *Metrics) SetWorkflowsActive(n int) {
	m.WorkflowsActive.Set(float64(n))
}

// ObserveRevert implements revert.Observer
func (m *Metrics) ObserveRevert(out revert.Outcome, duration time.Duration) {
	code := out.Code()
	if code == "" {
		code = "OK"
	}
	m.RevertsTotal.WithLabelValues(string(out.Status), code).Inc()
	m.RevertDuration.Observe(duration.Seconds())
	if out.Succeeded() {
		m.CascadeSize.Observe(float64(out.Affected))
	}
}

var _ revert.Observer = (*Metrics)(nil)
