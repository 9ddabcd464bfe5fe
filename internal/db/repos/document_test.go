package repos

import (
	"github.com/paperhtml/renderd/internal/db/models"
)

func (s *DBRepositoryTestSuite) TestDocumentLookups() {
	doc := s.createTestDocument()

	byID, err := s.documentRepo.GetByID(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal(doc.ExternalID, byID.ExternalID)

	byExternal, err := s.documentRepo.GetByExternalID(s.ctx, doc.ExternalID)
	s.Require().NoError(err)
	s.Equal(doc.ID, byExternal.ID)

	_, err = s.documentRepo.GetByExternalID(s.ctx, "does-not-exist")
	s.Error(err)

	_, err = s.documentRepo.GetByID(s.ctx, doc.ID+100)
	s.Error(err)
}

func (s *DBRepositoryTestSuite) TestDocumentCreateRequiresExternalID() {
	s.Error(s.documentRepo.Create(s.ctx, &models.Document{}))
}

func (s *DBRepositoryTestSuite) TestListByExternalIDs() {
	a := s.createTestDocument()
	b := s.createTestDocument()
	s.createTestDocument()

	docs, err := s.documentRepo.ListByExternalIDs(s.ctx, []string{a.ExternalID, b.ExternalID, "missing"})
	s.Require().NoError(err)
	s.Len(docs, 2)

	docs, err = s.documentRepo.ListByExternalIDs(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *DBRepositoryTestSuite) TestUpdateSourceFile() {
	doc := s.createTestDocument()
	s.Require().NoError(s.documentRepo.UpdateSourceFile(s.ctx, doc.ID, "paper-sources/x.pdf"))

	got, err := s.documentRepo.GetByID(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.Equal("paper-sources/x.pdf", got.SourceFile)
	s.False(got.IsRenderable())
}
