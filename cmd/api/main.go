package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/agenda-platform/cmd/mainconfig"
	"github.com/wolfman30/agenda-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agenda-platform/internal/config"
	"github.com/wolfman30/agenda-platform/internal/observability/tracing"
	"github.com/wolfman30/agenda-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting agenda API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	api, err := bootstrap.BuildAPI(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build API", "error", err)
		os.Exit(1)
	}
	api.Start(ctx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	api.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", "error", err)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// loadAWS returns nil when nothing AWS-backed is configured.
func loadAWS(ctx context.Context, cfg *appconfig.Config) (*aws.Config, error) {
	if !mainconfig.AWSEnabled(cfg) {
		return nil, nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &awsCfg, nil
}
