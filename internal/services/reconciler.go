package services

import (
	"context"
	"time"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/logger"
)

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	Checked int `json:"checked"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

// Reconciler syncs unfinished renders with the backend and sweeps
// containers that ran too long
type Reconciler struct {
	renders  *Renders
	repo     *repos.RenderRepository
	backend  backend.Backend
	sweepAge time.Duration
	now      func() time.Time
}

// NewReconciler creates a new reconciler
func NewReconciler(renders *Renders, repo *repos.RenderRepository, b backend.Backend, sweepAge time.Duration) *Reconciler {
	return &Reconciler{
		renders:  renders,
		repo:     repo,
		backend:  b,
		sweepAge: sweepAge,
		now:      time.Now,
	}
}

// ReconcileAll updates every started render whose container has not been
// removed. A render that fails to update is logged and skipped.
func (r *Reconciler) ReconcileAll(ctx context.Context) (*ReconcileReport, error) {
	pending, err := r.repo.ListUnreconciled(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}
	for _, render := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		updated, err := r.renders.UpdateState(ctx, render.ID, nil)
		if err != nil {
			report.Failed++
			logger.ErrorWithFields("Could not update render", map[string]interface{}{
				"render_id":  render.ID,
				"job_handle": render.ShortJobHandle(),
				"error":      err.Error(),
			})
			continue
		}
		if updated.State != render.State || updated.JobRemoved != render.JobRemoved {
			report.Changed++
		}
	}

	if report.Checked > 0 {
		logger.Infof("Reconciled %d renders, %d changed, %d failed", report.Checked, report.Changed, report.Failed)
	}
	return report, nil
}

// SweepLongRunning force removes every managed container older than maxAge,
// whatever its render's state. Zero maxAge uses the configured sweep age.
func (r *Reconciler) SweepLongRunning(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = r.sweepAge
	}

	containers, err := r.backend.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	now := r.now()
	for _, c := range containers {
		age := now.Sub(c.CreatedAt)
		if age <= maxAge {
			continue
		}
		short := c.ID
		if len(short) > 12 {
			short = short[:12]
		}
		logger.Infof("Container %s has been running for %s, force removing", short, age.Round(time.Second))

		outcome, err := r.backend.Remove(ctx, c.ID)
		if outcome == backend.RemoveFailed {
			logger.Errorf("Failed to remove container %s: %v", short, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunOnce reconciles renders and sweeps long running containers
func (r *Reconciler) RunOnce(ctx context.Context) {
	if _, err := r.ReconcileAll(ctx); err != nil {
		logger.Errorf("Reconciler error updating renders: %v", err)
	}
	if _, err := r.SweepLongRunning(ctx, 0); err != nil {
		logger.Errorf("Reconciler error sweeping containers: %v", err)
	}
}
