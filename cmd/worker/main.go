// Package main provides the entry point for the clip worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maauso/clip-worker/internal/bootstrap"
	"github.com/maauso/clip-worker/internal/config"
	"github.com/maauso/clip-worker/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting clip worker",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Int("max_messages", cfg.SQSMaxMessages),
		slog.Duration("poll_interval", cfg.PollInterval()),
		slog.String("temp_dir", cfg.VideoTempDir),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := bootstrap.NewDependencies(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer deps.Close()

	// Create HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           deps.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := deps.Dispatcher.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("dispatcher failed: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		deps.Reaper.Run(runCtx)
	}()

	// Graceful shutdown handling
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errCh:
		logger.Error("worker failed, shutting down", slog.String("error", runErr.Error()))
	}

	// Stop taking work and let running jobs finish. The dispatcher bounds
	// this with its own shutdown timeout.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.ShutdownTimeout()+5*time.Second)
	defer cancelDrain()
	if err := deps.Dispatcher.Shutdown(drainCtx); err != nil {
		if errors.Is(err, worker.ErrForcedShutdown) {
			logger.Warn("jobs still running at exit, their messages will be redelivered")
		} else {
			logger.Error("dispatcher shutdown failed", slog.String("error", err.Error()))
		}
	}

	// Stop the reaper and the poll loop.
	cancelRun()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("clip worker stopped gracefully")
	return runErr
}
