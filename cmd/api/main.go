package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"order-approval-service/internal/config"
	"order-approval-service/internal/dispatch"
	"order-approval-service/internal/httpapi"
	"order-approval-service/internal/logging"
	"order-approval-service/internal/metrics"
	"order-approval-service/internal/orchestrator"
	"order-approval-service/internal/telemetry"
)

const serviceName = "order-approval-api"

func main() {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Serve the order approval HTTP API and approval UI",
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("api exited")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(cfg.Log, serviceName)

	shutdownTracing, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.TracingEndpoint, cfg.TracingInsecure)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logging.NewTemporalLogger(logger),
	})
	if err != nil {
		return err
	}
	defer tc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	svc := orchestrator.New(dispatch.New(tc, m), orchestrator.Options{
		TaskQueue:       cfg.Temporal.TaskQueue,
		Approvers:       cfg.Approvers,
		DecisionTimeout: cfg.DecisionTimeout,
		Activity:        cfg.Activity,
	}, m)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(svc, logger, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
