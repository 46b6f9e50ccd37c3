// ABOUTME: gRPC interceptor for metrics and logging, and the observability HTTP server
// ABOUTME: The HTTP server exposes /metrics, /health, /ready and pprof

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/nainya/modelregistry/internal/logger"
	"github.com/nainya/modelregistry/internal/metrics"
)

// GrpcMetricsInterceptor records every unary call in m and logs it
func GrpcMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		m.GrpcInFlight.Inc()
		defer m.GrpcInFlight.Dec()

		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)

		m.RecordGrpcRequest(info.FullMethod, status.Code(err).String(), elapsed)
		log.LogGrpcRequest(info.FullMethod, elapsed, err)
		return resp, err
	}
}

// ObservabilityServer serves metrics, probes and profiling on its own port
type ObservabilityServer struct {
	server *http.Server
	log    *logger.Logger
}

// NewObservabilityServer serves the metrics of gatherer on port. ready
// reports whether the registry can serve requests.
func NewObservabilityServer(port int, log *logger.Logger, gatherer prometheus.Gatherer, ready func(context.Context) error) *ObservabilityServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, map[string]string{"status": "healthy", "service": "model-registry"})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				writeProbe(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeProbe(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &ObservabilityServer{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second, // cpu profiles run for 30s by default
			IdleTimeout:  60 * time.Second,
		},
		log: log.Component("observability"),
	}
}

func writeProbe(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Handler exposes the mux, mainly for tests
func (o *ObservabilityServer) Handler() http.Handler {
	return o.server.Handler
}

// Start serves until Shutdown
func (o *ObservabilityServer) Start() error {
	o.log.Info("Starting observability server").Str("addr", o.server.Addr).Send()
	if err := o.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("observability server: %w", err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests
func (o *ObservabilityServer) Shutdown(ctx context.Context) error {
	o.log.Info("Shutting down observability server").Send()
	return o.server.Shutdown(ctx)
}
