package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/nainya/modelregistry/pkg/storage"
	"github.com/nainya/modelregistry/pkg/store"
	"github.com/nainya/modelregistry/pkg/wal"
)

// value reads the current value of a single counter or gauge
func value(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("read metric: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestObserverCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveOperation("put", "RegisteredModel", time.Millisecond, nil)
	m.ObserveOperation("put", "RegisteredModel", time.Millisecond, errors.New("duplicate"))
	m.ObserveOperation("get", "ModelVersion", time.Millisecond, nil)
	m.ObserveCheckpoint(wal.CheckpointResult{LSN: 7}, nil)

	if got := value(t, m.StoreOperations.WithLabelValues("put", "RegisteredModel", "success")); got != 1 {
		t.Errorf("put success = %v", got)
	}
	if got := value(t, m.StoreOperations.WithLabelValues("put", "RegisteredModel", "error")); got != 1 {
		t.Errorf("put error = %v", got)
	}
	if got := value(t, m.Checkpoints.WithLabelValues("success")); got != 1 {
		t.Errorf("checkpoints = %v", got)
	}
}

func TestRequestMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordGrpcRequest("/modelregistry.v1.ModelRegistry/Get", "OK", 2*time.Millisecond)
	m.RecordHTTPRequest("GET", "/registered_models/:id", "404", time.Millisecond)

	if got := value(t, m.GrpcRequests.WithLabelValues("/modelregistry.v1.ModelRegistry/Get", "OK")); got != 1 {
		t.Errorf("grpc requests = %v", got)
	}
	if got := value(t, m.HTTPRequests.WithLabelValues("GET", "/registered_models/:id", "404")); got != 1 {
		t.Errorf("http requests = %v", got)
	}
}

func TestRunUpdatesGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())

	stats := func(context.Context) (*store.Stats, error) {
		cancel()
		return &store.Stats{
			Kinds:   []store.KindStats{{Kind: "RegisteredModel", Count: 3}},
			Storage: storage.Stats{SizeBytes: 4096},
		}, nil
	}
	m.Run(ctx, time.Hour, stats)

	if got := value(t, m.Entities.WithLabelValues("RegisteredModel")); got != 3 {
		t.Errorf("entities = %v", got)
	}
	if got := value(t, m.StoreSizeBytes); got != 4096 {
		t.Errorf("size = %v", got)
	}
}
