package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xroad-metrics/analyzer/internal/server"
	"github.com/xroad-metrics/analyzer/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analyzer as a long-lived service",
	Long: `Schedules training and anomaly detection at their configured
intervals and exposes health and Prometheus metrics endpoints. Anomaly
detection runs immediately on startup; training waits one full interval.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	trainer := service.NewTrainer(a.repo, a.repo, a.cfg.Analyzer, a.hb, a.logger)
	finder := service.NewFinder(a.repo, a.repo, a.cfg.Analyzer, a.hb, a.pub, a.logger)

	go runPeriodic(ctx, a.logger, "find", a.cfg.Analyzer.FindInterval, true, finder.Run)
	go runPeriodic(ctx, a.logger, "train", a.cfg.Analyzer.TrainInterval, false, trainer.Run)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:      server.NewRouter(a.repo),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Analyzer listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.logger.Info("Shutting down", slog.String("signal", sig.String()))
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.logger.Info("Server stopped gracefully")
	return nil
}

// runPeriodic invokes run every interval until the context is cancelled.
// Runs never overlap; a failed run is logged and retried on the next tick.
func runPeriodic(ctx context.Context, logger *slog.Logger, name string, interval time.Duration, immediate bool, run func(context.Context) error) {
	if immediate {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Scheduled run failed", slog.String("run", name), slog.String("error", err.Error()))
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Scheduled run failed", slog.String("run", name), slog.String("error", err.Error()))
			}
		}
	}
}
