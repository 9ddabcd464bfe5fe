package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paperhtml/renderd/internal/db/models"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/internal/storage"
)

// ExpiryReport summarizes a batch expiry or purge run
type ExpiryReport struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// Expiry enforces the render staleness policy
type Expiry struct {
	repo    *repos.RenderRepository
	storage storage.Storage
	ttl     time.Duration
	now     func() time.Time
}

// NewExpiryService creates a new expiry service
func NewExpiryService(repo *repos.RenderRepository, store storage.Storage, ttl time.Duration) *Expiry {
	return &Expiry{
		repo:    repo,
		storage: store,
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the configured render lifetime
func (e *Expiry) TTL() time.Duration {
	return e.ttl
}

// IsStale reports whether render is older than ttl at now
func IsStale(render *models.Render, now time.Time, ttl time.Duration) bool {
	return now.Sub(render.CreatedAt) > ttl
}

// MarkExpiredIfStale expires render when it is older than the TTL and
// reports whether it is expired afterwards
func (e *Expiry) MarkExpiredIfStale(ctx context.Context, render *models.Render, now time.Time) (bool, error) {
	if render.IsExpired {
		return true, nil
	}
	if !IsStale(render, now, e.ttl) {
		return false, nil
	}
	if err := e.repo.MarkExpired(ctx, render.ID); err != nil {
		return false, fmt.Errorf("failed to expire render %d: %w", render.ID, err)
	}
	render.IsExpired = true
	logger.Debugf("Render %d expired, created at %s", render.ID, render.CreatedAt.Format(time.RFC3339))
	return true, nil
}

// ExpireStale expires every render older than the TTL. Output of finished
// renders is purged on the way; purge failures are logged and left for
// DeleteExpiredOutputs.
func (e *Expiry) ExpireStale(ctx context.Context) (*ExpiryReport, error) {
	report := &ExpiryReport{}
	cutoff := e.now().Add(-e.ttl)

	var afterID uint
	for {
		batch, err := e.repo.ListStale(ctx, cutoff, afterID, models.DefaultBatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list stale renders: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			render := &batch[i]
			afterID = render.ID
			if err := e.repo.MarkExpired(ctx, render.ID); err != nil {
				return report, fmt.Errorf("failed to expire render %d: %w", render.ID, err)
			}
			report.Expired++

			if render.State.IsTerminal() && !render.IsDeleted {
				e.purge(ctx, render, report)
			}
		}
	}

	logger.Infof("Expired %d renders, purged %d outputs", report.Expired, report.Purged)
	return report, nil
}

// ForceExpireAll expires every render regardless of age
func (e *Expiry) ForceExpireAll(ctx context.Context) (int64, error) {
	n, err := e.repo.ExpireAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to expire renders: %w", err)
	}
	logger.Infof("Force expired %d renders", n)
	return n, nil
}

// DeleteExpiredOutputs purges the output of expired renders with an id
// greater than startID and marks them deleted. Renders still running are
// skipped.
func (e *Expiry) DeleteExpiredOutputs(ctx context.Context, startID uint) (*ExpiryReport, error) {
	report := &ExpiryReport{}

	afterID := startID
	for {
		batch, err := e.repo.ListExpiredNotDeleted(ctx, afterID, models.DefaultBatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to list expired renders: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			render := &batch[i]
			afterID = render.ID
			if !render.State.IsTerminal() && render.State != models.RenderStateUnstarted {
				continue
			}
			e.purge(ctx, render, report)
		}
		logger.Infof("Deleted expired renders up to id %d", afterID)
	}

	return report, nil
}

// MarkFailedAsDeleted soft deletes failed renders so their documents are
// rendered again on next access
func (e *Expiry) MarkFailedAsDeleted(ctx context.Context) (int64, error) {
	n, err := e.repo.MarkFailedAsDeleted(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to mark failed renders as deleted: %w", err)
	}
	logger.Infof("Marked %d failed renders as deleted", n)
	return n, nil
}

// purge deletes the output of render and marks it deleted. A missing output
// still counts as deleted.
func (e *Expiry) purge(ctx context.Context, render *models.Render, report *ExpiryReport) {
	fields := map[string]interface{}{
		"render_id":   render.ID,
		"document_id": render.DocumentID,
		"output_path": render.OutputPath(),
	}

	n, err := e.storage.DeletePrefix(ctx, render.OutputPath())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		logger.InfoWithFields("Render output does not exist", fields)
		report.Missing++
	case err != nil:
		fields["error"] = err.Error()
		logger.WarnWithFields("Failed to delete render output", fields)
		report.Failed++
		return
	default:
		fields["objects"] = n
		logger.DebugWithFields("Deleted render output", fields)
		report.Purged++
	}

	if err := e.repo.MarkDeleted(ctx, render.ID); err != nil {
		fields["error"] = err.Error()
		logger.ErrorWithFields("Failed to mark render as deleted", fields)
		report.Failed++
	}
}
