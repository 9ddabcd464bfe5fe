package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db/models"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/lock"
	"github.com/paperhtml/renderd/internal/runner"
	"github.com/paperhtml/renderd/internal/storage"
)

const testTTL = 30 * 24 * time.Hour

// TestSetup wires real services on an in-memory database and fake backend
type TestSetup struct {
	DB           *gorm.DB
	RenderRepo   *repos.RenderRepository
	DocumentRepo *repos.DocumentRepository
	Backend      *backend.Fake
	Storage      *storage.Local
	Runner       *runner.Runner
	Expiry       *Expiry
	Renders      *Renders
	Reconciler   *Reconciler
	Bulk         *Bulk
	Now          time.Time
	ctx          context.Context
	docSeq       int
}

// NewTestSetup creates a new test setup. ServeStaleOnFailure is on unless
// opts says otherwise.
func NewTestSetup(t *testing.T, opts ...func(*RenderOptions)) *TestSetup {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Failed to create in-memory database")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.Document{}, &models.Render{}), "Failed to run migrations")
	t.Cleanup(func() { _ = sqlDB.Close() })

	renderRepo := repos.NewRenderRepository(db)
	documentRepo := repos.NewDocumentRepository(db)
	fake := backend.NewFake()
	store := storage.NewLocal(t.TempDir())
	jobRunner := runner.New(fake, runner.Config{
		Image: "engrafo",
		Storage: config.StorageConfig{
			Mode:          config.StorageModeLocal,
			MediaRoot:     store.Root(),
			HostMediaRoot: "/host/media",
		},
	})

	renderOpts := RenderOptions{
		WebhookURLPrefix:    "http://renderd:8080/",
		ServeStaleOnFailure: true,
	}
	for _, opt := range opts {
		opt(&renderOpts)
	}

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	expiry := NewExpiryService(renderRepo, store, testTTL)
	expiry.now = clock
	renders := NewRenderService(renderRepo, documentRepo, jobRunner, fake, lock.NewMemory(), expiry, renderOpts)
	renders.now = clock
	reconciler := NewReconciler(renders, renderRepo, fake, 5*time.Minute)
	reconciler.now = clock

	return &TestSetup{
		DB:           db,
		RenderRepo:   renderRepo,
		DocumentRepo: documentRepo,
		Backend:      fake,
		Storage:      store,
		Runner:       jobRunner,
		Expiry:       expiry,
		Renders:      renders,
		Reconciler:   reconciler,
		Bulk:         NewBulkService(documentRepo, jobRunner, fake, store),
		Now:          now,
		ctx:          context.Background(),
	}
}

func withoutStaleOnFailure(o *RenderOptions) {
	o.ServeStaleOnFailure = false
}

// createDocument creates a document with the given source file
func (ts *TestSetup) createDocument(t *testing.T, sourceFile string) *models.Document {
	t.Helper()
	ts.docSeq++
	doc := &models.Document{
		ExternalID: fmt.Sprintf("1802.%05d", ts.docSeq),
		Title:      "Deep residual learning",
		SourceFile: sourceFile,
	}
	require.NoError(t, ts.DocumentRepo.Create(ts.ctx, doc))
	return doc
}

// createRender stores a render in the given state. Started renders get a
// running fake container.
func (ts *TestSetup) createRender(t *testing.T, documentID uint, state models.RenderState, age time.Duration) *models.Render {
	t.Helper()
	render := &models.Render{
		DocumentID: documentID,
		State:      state,
		CreatedAt:  ts.Now.Add(-age),
	}
	if state != models.RenderStateUnstarted {
		id, err := ts.Backend.Run(ts.ctx, backend.RunSpec{Image: "engrafo"})
		require.NoError(t, err)
		render.JobHandle = id
	}
	require.NoError(t, ts.RenderRepo.Create(ts.ctx, render))
	return render
}

// reload fetches the stored copy of a render
func (ts *TestSetup) reload(t *testing.T, id uint) *models.Render {
	t.Helper()
	render, err := ts.RenderRepo.GetByID(ts.ctx, id)
	require.NoError(t, err)
	return render
}

func (ts *TestSetup) expire(t *testing.T, id uint) {
	t.Helper()
	require.NoError(t, ts.RenderRepo.MarkExpired(ts.ctx, id))
}
