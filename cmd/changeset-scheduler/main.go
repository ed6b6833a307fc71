package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/config"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/dependencies"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/scheduler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/configmap"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const metricsShutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Printf("fatal error: %s\n", err.Error()) // nolint:forbidigo
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load configuration.
	cfg, err := config.Bind(os.Args[1:], os.LookupEnv)
	if helpErr := (configmap.HelpError{}); errors.As(err, &helpErr) {
		// Stop on --help flag
		fmt.Print(helpErr.Help) // nolint:forbidigo
		return nil
	} else if err != nil {
		return err
	}

	// Create logger.
	logFormat, err := log.NewLogFormat(cfg.LogFormat)
	if err != nil {
		return err
	}
	logger := log.NewServiceLogger(os.Stderr, cfg.DebugLog, logFormat)

	// Create process abstraction.
	proc, err := servicectx.New(ctx, cancel, logger)
	if err != nil {
		return err
	}

	// Setup telemetry, metrics are exported in the Prometheus format.
	meterProvider, metricsHandler, err := telemetry.NewPrometheusMeterProvider()
	if err != nil {
		return err
	}
	tel := telemetry.New(nil, meterProvider)
	if cfg.Metrics.Listen != "" {
		startMetricsServer(proc, logger, cfg.Metrics.Listen, metricsHandler)
	}

	// Create dependencies.
	d, err := dependencies.NewServiceScope(ctx, cfg, proc, logger, tel)
	if err != nil {
		return err
	}

	// Start scheduler.
	logger.Infof(ctx, "starting change set scheduler, store=%s, lock=%s, debug=%t", cfg.Store.Backend, cfg.Lock.Backend, cfg.DebugLog)
	if _, err := scheduler.Start(d, cfg.Scheduler); err != nil {
		return err
	}

	// Wait for the service shutdown.
	proc.WaitForShutdown()
	return nil
}

func startMetricsServer(proc *servicectx.Process, logger log.Logger, listen string, handler http.Handler) {
	logger = logger.WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	proc.Add(func(ctx context.Context, errCh chan<- error) {
		logger.Infof(ctx, `metrics HTTP server listening on "%s"`, listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.PrefixError(err, "metrics HTTP server failed")
		}
	})

	proc.OnShutdown(func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf(ctx, "cannot shutdown metrics HTTP server: %s", err)
		}
		logger.Info(ctx, "metrics HTTP server shutdown finished")
	})
}
