package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nainya/modelregistry/internal/api"
	"github.com/nainya/modelregistry/internal/config"
	"github.com/nainya/modelregistry/internal/logger"
	"github.com/nainya/modelregistry/internal/metrics"
	"github.com/nainya/modelregistry/internal/resource"
	"github.com/nainya/modelregistry/internal/server"
	"github.com/nainya/modelregistry/internal/tracing"
	"github.com/nainya/modelregistry/pkg/registry"
	"github.com/nainya/modelregistry/pkg/store"
)

const (
	statsInterval   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
	maxMsgSize      = 16 * 1024 * 1024
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC, REST and observability servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{
				ConfigFile: cfgFile,
				EnvFile:    envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		WithCaller: cfg.Log.Caller,
	})
	log.SetGlobal()
	log.LogServerStart(cfg.GRPC.Port, cfg.HTTP.Port, cfg.Database.Path)

	tp, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("Tracer shutdown failed").Err(err).Send()
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(promReg)

	st, err := store.Open(store.Options{
		Path:               cfg.Database.Path,
		WALDir:             cfg.Database.WALDir,
		CheckpointInterval: cfg.Database.CheckpointInterval,
		Limits:             cfg.Pagination.Limits(),
		Logger:             log.Component("store").Zerolog(),
		Observer:           m,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("Closing store failed").Err(err).Send()
		}
	}()

	reg, err := registry.New(ctx, st,
		registry.WithTracerProvider(tp.TracerProvider()),
		registry.WithLogger(log.Component("registry").Zerolog()),
	)
	if err != nil {
		return err
	}
	table, err := resource.New(reg)
	if err != nil {
		return err
	}

	grpcServer := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.UnaryInterceptor(server.GrpcMetricsInterceptor(m, log)),
	)
	server.Register(grpcServer, server.NewServer(table, log))
	reflection.Register(grpcServer)

	gin.SetMode(cfg.HTTP.Mode)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           api.NewRouter(api.Dependencies{Table: table, Logger: log, Metrics: m}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var obs *server.ObservabilityServer
	if cfg.Observability.Port != 0 {
		obs = server.NewObservabilityServer(cfg.Observability.Port, log, promReg, func(ctx context.Context) error {
			_, err := st.Stats(ctx)
			return err
		})
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if obs != nil {
		g.Go(obs.Start)
	}
	g.Go(func() error {
		m.Run(gctx, statsInterval, st.Stats)
		return nil
	})

	log.LogServerReady(cfg.GRPC.Port, cfg.HTTP.Port)

	g.Go(func() error {
		<-gctx.Done()
		log.LogServerShutdown()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		grpcServer.GracefulStop()
		err := httpServer.Shutdown(sctx)
		if obs != nil {
			err = errors.Join(err, obs.Shutdown(sctx))
		}
		return err
	})

	return g.Wait()
}
