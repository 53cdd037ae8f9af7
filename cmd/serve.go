package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP control API",
		Long: `Seeds configured targets, re-arms every target whose run flag is
active, and serves the HTTP API until interrupted. Schedules are re-synced
with the store periodically so starts and stops issued from other processes
take effect.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()
	cfg := appInstance.Config()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := appInstance.Seed(ctx); err != nil {
		logger.Warn("seeding targets failed", zap.Error(err))
	}
	ctrl := appInstance.Controller()
	if err := ctrl.Reconcile(ctx, nil); err != nil {
		logger.Warn("initial reconcile incomplete", zap.Error(err))
	}
	logger.Info("schedules armed", zap.Strings("targets", ctrl.Targets()))

	if every := cfg.Scheduler.ReconcileInterval; every > 0 {
		go reconcileLoop(ctx, every, func(ctx context.Context) error {
			return ctrl.Reconcile(ctx, nil)
		}, logger)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           appInstance.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func reconcileLoop(ctx context.Context, every time.Duration, reconcile func(context.Context) error, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reconcile(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("reconcile failed", zap.Error(err))
			}
		}
	}
}
