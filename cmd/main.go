package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/paperhtml/renderd/internal/app"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to start: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Errorf("Failed to close connections: %v", err)
		}
	}()

	// Background reconciliation
	var wg sync.WaitGroup
	wg.Add(1)
	go services.LaunchReconciler(ctx, &wg, a.Reconciler, cfg.Render.ReconcileInterval)

	server := a.NewServer()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server...")
		if err := server.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Errorf("Server shutdown failed: %v", err)
		}
	}()

	logger.Infof("Listening on :%s", cfg.Server.Port)
	if err := server.Listen(":" + cfg.Server.Port); err != nil {
		logger.Errorf("Server stopped: %v", err)
		cancel()
	}

	wg.Wait()
	logger.Info("Server exited")
}
