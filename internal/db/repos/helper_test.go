package repos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paperhtml/renderd/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db           *gorm.DB
	ctx          context.Context
	renderRepo   *RenderRepository
	documentRepo *DocumentRepository
	docSeq       int
}

func (s *DBRepositoryTestSuite) SetupTest() {
	// Each test gets a fresh private in-memory database
	db, err := gorm.Open(sqlite.Open("file::memory:?_json=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	sqlDB, err := db.DB()
	require.NoError(s.T(), err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.Document{}, &models.Render{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.renderRepo = NewRenderRepository(s.db)
	s.documentRepo = NewDocumentRepository(s.db)
	s.ctx = context.Background()
	s.docSeq = 0
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// Helper methods for creating test data

func (s *DBRepositoryTestSuite) createTestDocument() *models.Document {
	s.docSeq++
	doc := &models.Document{
		ExternalID: fmt.Sprintf("1802.%05d", s.docSeq),
		Title:      "Attention is all you need",
		SourceFile: "paper-sources/1802.00001.tar.gz",
	}
	s.Require().NoError(s.documentRepo.Create(s.ctx, doc))
	return doc
}

func (s *DBRepositoryTestSuite) createTestRender(documentID uint, state models.RenderState, createdAt time.Time) *models.Render {
	render := &models.Render{
		DocumentID: documentID,
		State:      state,
		CreatedAt:  createdAt,
	}
	if state != models.RenderStateUnstarted {
		render.JobHandle = "container-" + createdAt.Format("150405.000")
	}
	s.Require().NoError(s.renderRepo.Create(s.ctx, render))
	return render
}

// TestDBRepository runs the repository test suite
func TestDBRepository(t *testing.T) {
	suite.Run(t, new(DBRepositoryTestSuite))
}
