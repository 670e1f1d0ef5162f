package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/referral-intake/internal/bootstrap"
	"github.com/kirillkom/referral-intake/internal/config"
	"github.com/kirillkom/referral-intake/internal/core/domain"
	"github.com/kirillkom/referral-intake/internal/observability/logging"
)

const serviceName = "referral-worker"

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Workers consume the queue; they never dispatch.
	cfg.DispatchToNATS = false
	app, err := bootstrap.NewIntake(ctx, cfg, bootstrap.IntakeOptions{ServiceName: serviceName, ConnectQueue: true})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeSourceItems(ctx, func(handlerCtx context.Context, ref domain.SourceRef) error {
		processCtx, cancel := context.WithTimeout(handlerCtx, 10*time.Minute)
		defer cancel()

		_, err := app.IntakeUC.ProcessItem(processCtx, ref)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}
