package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/paperhtml/renderd/internal/db/models"
)

// RenderFilter narrows a render lookup for a document
type RenderFilter struct {
	// States restricts the lookup to the given states; empty means any state
	States         []models.RenderState
	ExcludeExpired bool
	ExcludeDeleted bool
}

// RenderRepository provides access to render-related database operations
type RenderRepository struct {
	db *gorm.DB
}

// NewRenderRepository creates a new render repository instance
func NewRenderRepository(db *gorm.DB) *RenderRepository {
	return &RenderRepository{db: db}
}

// Create creates a new render in the database
func (r *RenderRepository) Create(ctx context.Context, render *models.Render) error {
	if render.DocumentID == 0 {
		return fmt.Errorf("render requires a document id")
	}
	return r.db.WithContext(ctx).Create(render).Error
}

// GetByID retrieves a render by its ID
func (r *RenderRepository) GetByID(ctx context.Context, id uint) (*models.Render, error) {
	var render models.Render
	err := r.db.WithContext(ctx).Where(models.RenderIDField+" = ?", id).First(&render).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("render not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}
	return &render, nil
}

// GetActiveByID retrieves a render whose container has not been removed yet
func (r *RenderRepository) GetActiveByID(ctx context.Context, id uint) (*models.Render, error) {
	var render models.Render
	err := r.db.WithContext(ctx).
		Where(models.RenderIDField+" = ?", id).
		Where(models.RenderJobRemovedField+" = ?", false).
		First(&render).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("render not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}
	return &render, nil
}

// UpdateJob persists the job related columns of a render.
//
// Expiry and deletion flags are deliberately left out so a concurrent expiry
// is never overwritten by a stale copy.
func (r *RenderRepository) UpdateJob(ctx context.Context, render *models.Render) error {
	return r.db.WithContext(ctx).Model(render).
		Select(
			models.RenderStateField,
			models.RenderJobHandleField,
			models.RenderJobInspectField,
			models.RenderJobLogsField,
			models.RenderJobRemovedField,
		).
		Updates(render).Error
}

// Latest returns the most recent render of a document matching the filter,
// or nil when there is none. Ties on created_at are broken by the highest id.
func (r *RenderRepository) Latest(ctx context.Context, documentID uint, filter RenderFilter) (*models.Render, error) {
	qry := r.db.WithContext(ctx).Where(models.RenderDocumentIDField+" = ?", documentID)
	if len(filter.States) > 0 {
		qry = qry.Where(models.RenderStateField+" IN ?", filter.States)
	}
	if filter.ExcludeExpired {
		qry = qry.Where(models.RenderIsExpiredField+" = ?", false)
	}
	if filter.ExcludeDeleted {
		qry = qry.Where(models.RenderIsDeletedField+" = ?", false)
	}

	var renders []models.Render
	err := qry.
		Order(models.RenderCreatedAtField + " DESC").
		Order(models.RenderIDField + " DESC").
		Limit(1).
		Find(&renders).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest render: %w", err)
	}
	if len(renders) == 0 {
		return nil, nil
	}
	return &renders[0], nil
}

// ListByDocument returns the renders of a document, newest first
func (r *RenderRepository) ListByDocument(ctx context.Context, documentID uint, opts *models.ListOptions) ([]models.Render, error) {
	var renders []models.Render
	qry := r.db.WithContext(ctx).Where(models.RenderDocumentIDField+" = ?", documentID)
	if opts != nil {
		qry = qry.Limit(opts.Limit).Offset(opts.Offset)
	}
	err := qry.
		Order(models.RenderCreatedAtField + " DESC").
		Order(models.RenderIDField + " DESC").
		Find(&renders).Error
	return renders, err
}

// CountByDocument returns the total number of renders of a document
func (r *RenderRepository) CountByDocument(ctx context.Context, documentID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Render{}).
		Where(models.RenderDocumentIDField+" = ?", documentID).
		Count(&count).Error
	return count, err
}

// ListUnreconciled returns every started render whose container has not been
// removed, ordered by id
func (r *RenderRepository) ListUnreconciled(ctx context.Context) ([]models.Render, error) {
	var renders []models.Render
	err := r.db.WithContext(ctx).
		Where(models.RenderStateField+" <> ?", models.RenderStateUnstarted).
		Where(models.RenderJobRemovedField+" = ?", false).
		Order(models.RenderIDField + " ASC").
		Find(&renders).Error
	return renders, err
}

// ListStale returns up to limit unexpired renders created before the cutoff
// with an id greater than afterID, ordered by id
func (r *RenderRepository) ListStale(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]models.Render, error) {
	var renders []models.Render
	err := r.db.WithContext(ctx).
		Where(models.RenderIsExpiredField+" = ?", false).
		Where(models.RenderCreatedAtField+" < ?", cutoff).
		Where(models.RenderIDField+" > ?", afterID).
		Order(models.RenderIDField + " ASC").
		Limit(limit).
		Find(&renders).Error
	return renders, err
}

// ListExpiredNotDeleted returns up to limit expired renders whose output has
// not been purged, with an id greater than afterID, ordered by id
func (r *RenderRepository) ListExpiredNotDeleted(ctx context.Context, afterID uint, limit int) ([]models.Render, error) {
	var renders []models.Render
	err := r.db.WithContext(ctx).
		Where(models.RenderIsExpiredField+" = ?", true).
		Where(models.RenderIsDeletedField+" = ?", false).
		Where(models.RenderIDField+" > ?", afterID).
		Order(models.RenderIDField + " ASC").
		Limit(limit).
		Find(&renders).Error
	return renders, err
}

// MarkExpired flags a single render as expired
func (r *RenderRepository) MarkExpired(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Render{}).
		Where(models.RenderIDField+" = ?", id).
		Update(models.RenderIsExpiredField, true).Error
}

// ExpireAll flags every unexpired render as expired and returns how many
// rows changed
func (r *RenderRepository) ExpireAll(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Render{}).
		Where(models.RenderIsExpiredField+" = ?", false).
		Update(models.RenderIsExpiredField, true)
	return res.RowsAffected, res.Error
}

// MarkDeleted flags a render's output as purged
func (r *RenderRepository) MarkDeleted(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.Render{}).
		Where(models.RenderIDField+" = ?", id).
		Update(models.RenderIsDeletedField, true).Error
}

// MarkFailedAsDeleted soft deletes every failed render that is not deleted yet
func (r *RenderRepository) MarkFailedAsDeleted(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Render{}).
		Where(models.RenderStateField+" = ?", models.RenderStateFailure).
		Where(models.RenderIsDeletedField+" = ?", false).
		Update(models.RenderIsDeletedField, true)
	return res.RowsAffected, res.Error
}
