package repos

import (
	"encoding/json"
	"time"

	"github.com/paperhtml/renderd/internal/db/models"
)

func (s *DBRepositoryTestSuite) TestRenderCreateDefaultsToUnstarted() {
	doc := s.createTestDocument()
	render := &models.Render{DocumentID: doc.ID}
	s.Require().NoError(s.renderRepo.Create(s.ctx, render))

	got, err := s.renderRepo.GetByID(s.ctx, render.ID)
	s.Require().NoError(err)
	s.Equal(models.RenderStateUnstarted, got.State)
	s.False(got.JobRemoved)
	s.False(got.IsExpired)
	s.False(got.IsDeleted)
	s.False(got.CreatedAt.IsZero())
}

func (s *DBRepositoryTestSuite) TestRenderCreateRequiresDocument() {
	s.Error(s.renderRepo.Create(s.ctx, &models.Render{}))
}

func (s *DBRepositoryTestSuite) TestRenderGetByIDNotFound() {
	_, err := s.renderRepo.GetByID(s.ctx, 999)
	s.Error(err)
	s.Contains(err.Error(), "render not found")
}

func (s *DBRepositoryTestSuite) TestGetActiveByIDSkipsRemoved() {
	doc := s.createTestDocument()
	render := s.createTestRender(doc.ID, models.RenderStateSuccess, time.Now())

	_, err := s.renderRepo.GetActiveByID(s.ctx, render.ID)
	s.Require().NoError(err)

	render.JobRemoved = true
	s.Require().NoError(s.renderRepo.UpdateJob(s.ctx, render))

	_, err = s.renderRepo.GetActiveByID(s.ctx, render.ID)
	s.Error(err)
}

func (s *DBRepositoryTestSuite) TestUpdateJobKeepsExpiry() {
	doc := s.createTestDocument()
	render := s.createTestRender(doc.ID, models.RenderStateRunning, time.Now())

	// Expire behind the back of the in-memory copy
	s.Require().NoError(s.renderRepo.MarkExpired(s.ctx, render.ID))

	render.State = models.RenderStateSuccess
	render.JobLogs = "done"
	render.JobInspect = json.RawMessage(`{"State":{"Status":"exited"}}`)
	s.Require().NoError(s.renderRepo.UpdateJob(s.ctx, render))

	got, err := s.renderRepo.GetByID(s.ctx, render.ID)
	s.Require().NoError(err)
	s.Equal(models.RenderStateSuccess, got.State)
	s.Equal("done", got.JobLogs)
	s.JSONEq(`{"State":{"Status":"exited"}}`, string(got.JobInspect))
	s.True(got.IsExpired, "updating job fields must not reset expiry")
}

func (s *DBRepositoryTestSuite) TestLatestOrdering() {
	doc := s.createTestDocument()
	now := time.Now()
	older := s.createTestRender(doc.ID, models.RenderStateSuccess, now.Add(-time.Hour))
	tieA := s.createTestRender(doc.ID, models.RenderStateFailure, now)
	tieB := s.createTestRender(doc.ID, models.RenderStateFailure, now)

	latest, err := s.renderRepo.Latest(s.ctx, doc.ID, RenderFilter{})
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(tieB.ID, latest.ID, "ties are broken by highest id")
	s.NotEqual(tieA.ID, latest.ID)

	success, err := s.renderRepo.Latest(s.ctx, doc.ID, RenderFilter{
		States: []models.RenderState{models.RenderStateSuccess},
	})
	s.Require().NoError(err)
	s.Require().NotNil(success)
	s.Equal(older.ID, success.ID)
}

func (s *DBRepositoryTestSuite) TestLatestFilters() {
	doc := s.createTestDocument()
	now := time.Now()
	expired := s.createTestRender(doc.ID, models.RenderStateSuccess, now)
	s.Require().NoError(s.renderRepo.MarkExpired(s.ctx, expired.ID))
	deleted := s.createTestRender(doc.ID, models.RenderStateSuccess, now.Add(-time.Minute))
	s.Require().NoError(s.renderRepo.MarkDeleted(s.ctx, deleted.ID))

	got, err := s.renderRepo.Latest(s.ctx, doc.ID, RenderFilter{ExcludeExpired: true, ExcludeDeleted: true})
	s.Require().NoError(err)
	s.Nil(got)

	got, err = s.renderRepo.Latest(s.ctx, doc.ID, RenderFilter{ExcludeDeleted: true})
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(expired.ID, got.ID)

	other := s.createTestDocument()
	got, err = s.renderRepo.Latest(s.ctx, other.ID, RenderFilter{})
	s.Require().NoError(err)
	s.Nil(got)
}

func (s *DBRepositoryTestSuite) TestListUnreconciled() {
	doc := s.createTestDocument()
	now := time.Now()
	s.createTestRender(doc.ID, models.RenderStateUnstarted, now)
	running := s.createTestRender(doc.ID, models.RenderStateRunning, now)
	removed := s.createTestRender(doc.ID, models.RenderStateSuccess, now)
	removed.JobRemoved = true
	s.Require().NoError(s.renderRepo.UpdateJob(s.ctx, removed))
	finished := s.createTestRender(doc.ID, models.RenderStateFailure, now)

	renders, err := s.renderRepo.ListUnreconciled(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(renders, 2)
	s.Equal(running.ID, renders[0].ID)
	s.Equal(finished.ID, renders[1].ID)
}

func (s *DBRepositoryTestSuite) TestListStaleAndExpireAll() {
	doc := s.createTestDocument()
	now := time.Now()
	old := s.createTestRender(doc.ID, models.RenderStateSuccess, now.Add(-48*time.Hour))
	s.createTestRender(doc.ID, models.RenderStateSuccess, now)

	stale, err := s.renderRepo.ListStale(s.ctx, now.Add(-24*time.Hour), 0, 10)
	s.Require().NoError(err)
	s.Require().Len(stale, 1)
	s.Equal(old.ID, stale[0].ID)

	// a render created exactly at the cutoff is not stale yet
	stale, err = s.renderRepo.ListStale(s.ctx, old.CreatedAt, 0, 10)
	s.Require().NoError(err)
	s.Empty(stale)

	n, err := s.renderRepo.ExpireAll(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(2, n)

	n, err = s.renderRepo.ExpireAll(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(0, n)

	stale, err = s.renderRepo.ListStale(s.ctx, now, 0, 10)
	s.Require().NoError(err)
	s.Empty(stale)
}

func (s *DBRepositoryTestSuite) TestListExpiredNotDeletedPaging() {
	doc := s.createTestDocument()
	now := time.Now()
	var ids []uint
	for i := 0; i < 3; i++ {
		r := s.createTestRender(doc.ID, models.RenderStateSuccess, now)
		s.Require().NoError(s.renderRepo.MarkExpired(s.ctx, r.ID))
		ids = append(ids, r.ID)
	}
	s.Require().NoError(s.renderRepo.MarkDeleted(s.ctx, ids[1]))

	page, err := s.renderRepo.ListExpiredNotDeleted(s.ctx, 0, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(ids[0], page[0].ID)

	page, err = s.renderRepo.ListExpiredNotDeleted(s.ctx, ids[0], 10)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(ids[2], page[0].ID)
}

func (s *DBRepositoryTestSuite) TestMarkFailedAsDeleted() {
	doc := s.createTestDocument()
	now := time.Now()
	failed := s.createTestRender(doc.ID, models.RenderStateFailure, now)
	ok := s.createTestRender(doc.ID, models.RenderStateSuccess, now)

	n, err := s.renderRepo.MarkFailedAsDeleted(s.ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	got, err := s.renderRepo.GetByID(s.ctx, failed.ID)
	s.Require().NoError(err)
	s.True(got.IsDeleted)

	got, err = s.renderRepo.GetByID(s.ctx, ok.ID)
	s.Require().NoError(err)
	s.False(got.IsDeleted)
}

func (s *DBRepositoryTestSuite) TestListByDocument() {
	doc := s.createTestDocument()
	now := time.Now()
	first := s.createTestRender(doc.ID, models.RenderStateFailure, now.Add(-time.Minute))
	second := s.createTestRender(doc.ID, models.RenderStateSuccess, now)

	renders, err := s.renderRepo.ListByDocument(s.ctx, doc.ID, &models.ListOptions{Limit: models.DefaultLimit})
	s.Require().NoError(err)
	s.Require().Len(renders, 2)
	s.Equal(second.ID, renders[0].ID)
	s.Equal(first.ID, renders[1].ID)

	count, err := s.renderRepo.CountByDocument(s.ctx, doc.ID)
	s.Require().NoError(err)
	s.EqualValues(2, count)

	count, err = s.renderRepo.CountByDocument(s.ctx, doc.ID+1)
	s.Require().NoError(err)
	s.Zero(count)
}
