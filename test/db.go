package test

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paperhtml/renderd/internal/db"
	"github.com/paperhtml/renderd/internal/db/repos"
)

// NewFileBasedTestDB creates a new file-based SQLite database for testing.
// It returns the database connection and the path to the temporary directory.
func NewFileBasedTestDB() (*gorm.DB, string, error) {
	tmpDir, err := os.MkdirTemp("", "renderd_test")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	dbPath := filepath.Join(tmpDir, "renderd_test.db")
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			fmt.Printf("Warning: failed to remove temporary directory after database error: %v\n", rmErr)
		}
		return nil, "", fmt.Errorf("failed to open database: %w", err)
	}
	// the reconciler and request handlers share one file
	if sqlDB, err := database.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	return database, tmpDir, nil
}

// CleanupTestDB closes the database connection and removes the temporary directory.
func CleanupTestDB(database *gorm.DB, tmpDir string) {
	sqlDB, err := database.DB()
	if err == nil && sqlDB != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			fmt.Printf("Error closing database connection: %v\n", closeErr)
		}
	}
	if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
		fmt.Printf("Error removing temporary directory: %v\n", rmErr)
	}
}

// WithDB returns an option that uses the given database, or a new
// file-based one when nil.
func WithDB(database *gorm.DB) Option {
	return func(env *TestEnvironment) {
		if database == nil {
			dbConn, tmpDir, err := NewFileBasedTestDB()
			env.Require().NoError(err, "Failed to create file-based database")
			database = dbConn

			oldCleanup := env.cleanup
			env.cleanup = func() {
				if oldCleanup != nil {
					oldCleanup()
				}
				CleanupTestDB(dbConn, tmpDir)
			}
		}

		env.Require().NoError(db.Migrate(database), "Failed to run database migrations")
		env.DB = database
		env.RenderRepo = repos.NewRenderRepository(database)
		env.DocumentRepo = repos.NewDocumentRepository(database)
	}
}
