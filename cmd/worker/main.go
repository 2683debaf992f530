package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"order-approval-service/internal/activities"
	"order-approval-service/internal/config"
	"order-approval-service/internal/idempotency"
	"order-approval-service/internal/logging"
	"order-approval-service/internal/metrics"
	"order-approval-service/internal/notify"
	"order-approval-service/internal/store"
	"order-approval-service/internal/telemetry"
	"order-approval-service/internal/workflows"
)

const serviceName = "order-approval-worker"

func main() {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Run the order approval Temporal worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml/json/toml)")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("worker exited")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Log, serviceName)

	shutdown, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.TracingEndpoint, cfg.TracingInsecure)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	db, err := store.Open(cfg.DBDSN)
	if err != nil {
		return err
	}
	ledger := store.New(db)
	defer ledger.Close()
	if err := ledger.Migrate(ctx); err != nil {
		return err
	}

	var claims idempotency.Keeper = idempotency.NewMemory()
	if cfg.RedisURL != "" {
		rc, err := idempotency.OpenRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rc.Close()
		claims = idempotency.NewRedis(rc)
	} else {
		logger.Warn().Msg("no redis.url configured, notification claims are kept in process")
	}

	publisher := notify.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer publisher.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	go serveMetrics(cfg.MetricsAddr, reg, logger)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.OrderApproval)
	w.RegisterActivity(&activities.Activities{
		Ledger:    ledger,
		Claims:    claims,
		Publisher: publisher,
		Metrics:   m,
	})

	logger.Info().Str("task_queue", cfg.Temporal.TaskQueue).Msg("worker started")
	return w.Run(worker.InterruptCh())
}

func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}
