package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rryowa/cookie_auth/internal/metrics"
	"github.com/rryowa/cookie_auth/internal/service"
	"github.com/rryowa/cookie_auth/internal/storage/postgres"
	redisstore "github.com/rryowa/cookie_auth/internal/storage/redis"
	"github.com/rryowa/cookie_auth/internal/util"
)

const metricsShutdownTimeout = 5 * time.Second

// NewWorkerCmd creates the worker subcommand.
func NewWorkerCmd() *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued email and sweep expired refresh sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := util.NewZapLogger()
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			db, dbCleanup, err := util.NewDBConnection(logger, util.NewDBConfig())
			if err != nil {
				return err
			}
			defer dbCleanup()

			redisClient, redisCleanup, err := util.NewRedisClient(logger, util.NewRedisConfig())
			if err != nil {
				return err
			}
			defer redisCleanup()

			registry := prometheus.NewRegistry()
			registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			if metricsAddr != "" {
				go serveMetrics(ctx, logger, metricsAddr, registry)
			}

			mailCfg := util.NewMailConfig()
			tokenCfg := util.NewTokenConfig()

			worker := service.NewWorker(
				redisstore.NewTaskQueue(redisClient, mailCfg.Queue),
				service.NewMailRelay(logger, mailCfg.RelayURL),
				service.NewSessionService(postgres.NewStorage(db), tokenCfg.RefreshTTL),
				metrics.New(registry),
				logger,
				mailCfg.PollWait,
				mailCfg.SweepInterval,
			)

			logger.Infow("Worker started", "queue", mailCfg.Queue, "sweepInterval", mailCfg.SweepInterval)
			return worker.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9091", "address for the /metrics endpoint, empty to disable")

	return cmd
}

func newMetricsServer(gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return e
}

// serveMetrics exposes gatherer on addr until ctx is cancelled.
func serveMetrics(ctx context.Context, logger *zap.SugaredLogger, addr string, gatherer prometheus.Gatherer) {
	e := newMetricsServer(gatherer)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.Errorw("Metrics server shutdown failed", "error", err)
		}
	}()

	logger.Infow("Serving worker metrics", "addr", addr)
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorw("Metrics server stopped", "error", err)
	}
}
