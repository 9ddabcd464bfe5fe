package services

import (
	"context"
	"sync"
	"time"

	"github.com/paperhtml/renderd/internal/logger"
)

// LaunchReconciler runs the reconciler every interval until ctx is done
func LaunchReconciler(ctx context.Context, wg *sync.WaitGroup, reconciler *Reconciler, interval time.Duration) {
	defer wg.Done()

	logger.Info("Reconciler started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		reconciler.RunOnce(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Reconciler received shutdown signal, stopping...")
			return
		case <-ticker.C:
		}
	}
}
