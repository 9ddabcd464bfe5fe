package test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/paperhtml/renderd/internal/app"
	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db/models"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/lock"
	"github.com/paperhtml/renderd/internal/services"
	"github.com/paperhtml/renderd/internal/storage"
	"github.com/paperhtml/renderd/pkg/api/v1/client"
)

// defaultWebhookURLPrefix is used when no server is started
const defaultWebhookURLPrefix = "http://renderd.test"

// TestEnvironment encapsulates all components needed for integration testing.
// It provides a complete test setup with:
//   - File-based SQLite database
//   - Real services, optionally behind a real API server and client
//   - Local output storage in a temporary directory
//   - In-memory execution backend
type TestEnvironment struct {
	t *testing.T // The testing.T instance for this environment

	// Application
	App *app.App

	// Server components, set by WithServer
	Server *httptest.Server

	// Client components, set by WithServer
	APIClient client.Client

	// Database components
	DB           *gorm.DB
	RenderRepo   *repos.RenderRepository
	DocumentRepo *repos.DocumentRepository

	// Backends
	Backend *backend.Fake
	Storage *storage.Local

	renderOptions services.RenderOptions
	withServer    bool

	// Context management
	ctx        context.Context
	cancelFunc context.CancelFunc

	// Cleanup function
	cleanup func()
}

// NewTestEnvironment creates a new test environment with the given options.
// The environment must be cleaned up after use by calling Cleanup.
func NewTestEnvironment(t *testing.T, opts ...Option) *TestEnvironment {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTestTimeout)

	env := &TestEnvironment{
		t:          t,
		ctx:        ctx,
		cancelFunc: cancel,
		Backend:    backend.NewFake(),
		Storage:    storage.NewLocal(t.TempDir()),
		renderOptions: services.RenderOptions{
			WebhookURLPrefix:    defaultWebhookURLPrefix,
			ServeStaleOnFailure: true,
		},
	}

	env.cleanup = func() {
		if env.cancelFunc != nil {
			env.cancelFunc()
		}
	}

	// Setup database by default
	WithDB(nil)(env)

	for _, opt := range opts {
		opt(env)
	}

	if env.withServer {
		startServer(env)
	} else {
		env.App = env.buildApp()
	}

	return env
}

// buildApp wires the services on the environment's dependencies
func (e *TestEnvironment) buildApp() *app.App {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:             "0",
			WebhookURLPrefix: e.renderOptions.WebhookURLPrefix,
		},
		Render: config.RenderConfig{
			Image:               "engrafo",
			ExpiryTTL:           30 * 24 * time.Hour,
			SweepAge:            5 * time.Minute,
			ReconcileInterval:   time.Second,
			ServeStaleOnFailure: e.renderOptions.ServeStaleOnFailure,
		},
		Storage: config.StorageConfig{
			Mode:      config.StorageModeLocal,
			MediaRoot: e.Storage.Root(),
		},
	}
	return app.Build(cfg, e.DB, e.Backend, e.Storage, lock.NewMemory())
}

// Context returns the environment's context, which is automatically
// canceled when the environment is cleaned up.
func (e *TestEnvironment) Context() context.Context {
	return e.ctx
}

// Cleanup tears down the test environment, releasing all resources.
// This should be deferred immediately after creating the environment.
func (e *TestEnvironment) Cleanup() {
	if e.cleanup != nil {
		e.cleanup()
	}
}

// Require returns a require.Assertions instance for this environment.
func (e *TestEnvironment) Require() *require.Assertions {
	return require.New(e.t)
}

// T returns the testing.T instance for this environment.
func (e *TestEnvironment) T() *testing.T {
	return e.t
}

// CreateDocument stores a document with the given source file
func (e *TestEnvironment) CreateDocument(externalID, sourceFile string) *models.Document {
	doc := &models.Document{ExternalID: externalID, SourceFile: sourceFile}
	e.Require().NoError(e.DocumentRepo.Create(e.ctx, doc))
	return doc
}

// Reload reads a render back from the database
func (e *TestEnvironment) Reload(id uint) *models.Render {
	render, err := e.RenderRepo.GetByID(e.ctx, id)
	e.Require().NoError(err)
	return render
}

// Age moves a render's creation time into the past
func (e *TestEnvironment) Age(id uint, age time.Duration) {
	e.Require().NoError(e.DB.Model(&models.Render{}).
		Where(models.RenderIDField+" = ?", id).
		Update(models.RenderCreatedAtField, time.Now().Add(-age)).Error)
}
