package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/referral-intake/internal/bootstrap"
	"github.com/kirillkom/referral-intake/internal/config"
	"github.com/kirillkom/referral-intake/internal/core/usecase"
	"github.com/kirillkom/referral-intake/internal/observability/logging"
	"github.com/kirillkom/referral-intake/internal/observability/metrics"
)

const serviceName = "referral-intake"

func main() {
	once := flag.Bool("once", false, "run a single intake cycle and exit")
	flag.Parse()

	cfg := config.Load()
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewIntake(ctx, cfg, bootstrap.IntakeOptions{ServiceName: serviceName})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if *once {
		if err := runCycle(ctx, app.IntakeUC, app.Metrics); err != nil {
			os.Exit(1)
		}
		return
	}

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

	wake, err := app.Transport.Watch(ctx)
	if err != nil {
		logger.Warn("mail_watch_unavailable", "error", err)
	}

	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("intake_started", "mail_dir", cfg.MailDir, "poll_interval", interval.String(), "dispatch_nats", cfg.DispatchToNATS)
	for {
		_ = runCycle(ctx, app.IntakeUC, app.Metrics)

		select {
		case <-ctx.Done():
			logger.Info("intake_stopped")
			return
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

func runCycle(ctx context.Context, uc *usecase.IntakeUseCase, m *metrics.IntakeMetrics) error {
	started := time.Now()
	report, err := uc.RunCycle(ctx)
	m.ObserveCycle(err)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("intake_cycle_failed", "error", err, "listed", report.Listed)
		return err
	}
	if report.Listed > 0 {
		attrs := []any{"listed", report.Listed, "dispatched", report.Dispatched, "duration_ms", time.Since(started).Milliseconds()}
		for outcome, n := range report.Outcomes {
			attrs = append(attrs, string(outcome), n)
		}
		slog.Info("intake_cycle_completed", attrs...)
	}
	return nil
}
