// ABOUTME: Prometheus metrics for the model registry
// ABOUTME: Implements the store observer; request metrics are fed by the gRPC interceptor and gin middleware

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nainya/modelregistry/pkg/store"
	"github.com/nainya/modelregistry/pkg/wal"
)

const namespace = "modelregistry"

// Metrics holds every collector the registry exports
type Metrics struct {
	GrpcRequests *prometheus.CounterVec   // method, status
	GrpcDuration *prometheus.HistogramVec // method
	GrpcInFlight prometheus.Gauge

	HTTPRequests *prometheus.CounterVec   // method, route, code
	HTTPDuration *prometheus.HistogramVec // method, route

	StoreOperations *prometheus.CounterVec   // operation, kind, status
	StoreDuration   *prometheus.HistogramVec // operation
	StoreSizeBytes  prometheus.Gauge
	Entities        *prometheus.GaugeVec   // kind
	Checkpoints     *prometheus.CounterVec // status

	Uptime  prometheus.Gauge
	started time.Time
}

// NewMetrics creates the registry metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help}, labels)
	}
	histogram := func(sub, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(sub, name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: sub, Name: name, Help: help})
	}

	return &Metrics{
		GrpcRequests: counter("grpc", "requests_total", "gRPC requests by method and status code.", "method", "status"),
		GrpcDuration: histogram("grpc", "request_duration_seconds", "gRPC request latency.", prometheus.DefBuckets, "method"),
		GrpcInFlight: gauge("grpc", "requests_in_flight", "gRPC requests being served."),

		HTTPRequests: counter("http", "requests_total", "REST requests by route and status code.", "method", "route", "code"),
		HTTPDuration: histogram("http", "request_duration_seconds", "REST request latency.", prometheus.DefBuckets, "method", "route"),

		StoreOperations: counter("store", "operations_total", "Store operations by kind and outcome.", "operation", "kind", "status"),
		StoreDuration: histogram("store", "operation_duration_seconds", "Store operation latency.",
			[]float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5}, "operation"),
		StoreSizeBytes: gauge("store", "size_bytes", "Page file size in bytes."),
		Entities: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "entities", Help: "Stored entities per kind.",
		}, []string{"kind"}),
		Checkpoints: counter("wal", "checkpoints_total", "Journal checkpoints by outcome.", "status"),

		Uptime:  gauge("server", "uptime_seconds", "Seconds since the server started."),
		started: time.Now(),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordGrpcRequest records a gRPC request with its status code
func (m *Metrics) RecordGrpcRequest(method, code string, d time.Duration) {
	m.GrpcRequests.WithLabelValues(method, code).Inc()
	m.GrpcDuration.WithLabelValues(method).Observe(d.Seconds())
}

// RecordHTTPRequest records a REST request. route is the registered
// pattern, not the raw path.
func (m *Metrics) RecordHTTPRequest(method, route, code string, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, code).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveOperation implements store.Observer
func (m *Metrics) ObserveOperation(op, kind string, d time.Duration, err error) {
	m.StoreOperations.WithLabelValues(op, kind, outcome(err)).Inc()
	m.StoreDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCheckpoint implements store.Observer
func (m *Metrics) ObserveCheckpoint(_ wal.CheckpointResult, err error) {
	m.Checkpoints.WithLabelValues(outcome(err)).Inc()
}

// UpdateStoreStats copies entity counts and file size into the gauges
func (m *Metrics) UpdateStoreStats(st *store.Stats) {
	m.StoreSizeBytes.Set(float64(st.Storage.SizeBytes))
	for _, k := range st.Kinds {
		m.Entities.WithLabelValues(k.Kind).Set(float64(k.Count))
	}
}

// Run refreshes the uptime and store gauges every interval until ctx is done
func (m *Metrics) Run(ctx context.Context, interval time.Duration, stats func(context.Context) (*store.Stats, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		m.Uptime.Set(time.Since(m.started).Seconds())
		if stats != nil {
			if st, err := stats(ctx); err == nil {
				m.UpdateStoreStats(st)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

var _ store.Observer = (*Metrics)(nil)
