// Package main is the entry point for the recall memory server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blueberrycongee/recall/internal/api"
	"github.com/blueberrycongee/recall/internal/app"
	"github.com/blueberrycongee/recall/internal/auth"
	"github.com/blueberrycongee/recall/internal/config"
	"github.com/blueberrycongee/recall/internal/observability"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Bootstrap logger until the configured one is known.
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgManager, err := config.NewManager(configPath, bootstrap)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error_kind", "config_error", "error", err)
		return err
	}
	defer cfgManager.Close()
	cfg := cfgManager.Get()

	redactor := observability.NewRedactor()
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, redactor)
	slog.SetDefault(logger.Slog())
	logger.Info("starting recall", "version", version, "config", configPath)

	for _, w := range cfg.Warnings() {
		logger.Warn(w.Message, "code", w.Code)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitTracing(ctx, observability.TracingConfigFrom(cfg.Tracing))
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	} else {
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	resources, err := app.Build(ctx, cfgManager.Get, logger.Slog())
	if err != nil {
		return fmt.Errorf("build resources: %w", err)
	}
	defer resources.Close()

	limiter := auth.NewClientRateLimiter(auth.RateLimiterConfig{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.BurstSize,
		SkipPaths:         cfg.Auth.SkipPaths,
		TrustedProxies:    cfg.RateLimit.TrustedProxies,
		Logger:            logger.Slog(),
	})
	defer limiter.Close()

	cfgManager.OnChange(func(next *config.Config) {
		limiter.SetRate(next.RateLimit.Enabled, next.RateLimit.RequestsPerMinute, next.RateLimit.BurstSize)
		logger.Info("reloadable settings applied", "rate_limit", next.RateLimit.Enabled)
	})
	if err := cfgManager.Watch(ctx); err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	handler := api.NewHandler(resources.Search, resources.Records, resources.Chat, cfgManager.Get, logger)
	mux, err := buildMux(cfg, handler)
	if err != nil {
		return err
	}
	stack, err := buildMiddlewareStack(cfg, limiter, logger.Slog())
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      stack(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.EffectiveWriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down server...")

	// In-flight chat calls may take up to the model timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Chat.Timeout+10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
