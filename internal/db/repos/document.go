package repos

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/paperhtml/renderd/internal/db/models"
)

// DocumentRepository provides access to document-related database operations
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository instance
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create creates a new document in the database
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ExternalID == "" {
		return fmt.Errorf("document external id cannot be empty")
	}
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID retrieves a document by its ID
func (r *DocumentRepository) GetByID(ctx context.Context, id uint) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).First(&doc, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// GetByExternalID retrieves a document by its catalog identifier
func (r *DocumentRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where(models.DocumentExternalIDField+" = ?", externalID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("document not found: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ListByExternalIDs returns the documents matching the given identifiers.
// Unknown identifiers are skipped.
func (r *DocumentRepository) ListByExternalIDs(ctx context.Context, externalIDs []string) ([]models.Document, error) {
	var docs []models.Document
	if len(externalIDs) == 0 {
		return docs, nil
	}
	err := r.db.WithContext(ctx).
		Where(models.DocumentExternalIDField+" IN ?", externalIDs).
		Find(&docs).Error
	return docs, err
}

// UpdateSourceFile records the storage key of a document's source archive
func (r *DocumentRepository) UpdateSourceFile(ctx context.Context, id uint, sourceFile string) error {
	return r.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Update(models.DocumentSourceFileField, sourceFile).Error
}
