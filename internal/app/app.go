// Package app wires the configuration into the running services.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"github.com/paperhtml/renderd/internal/api/middleware"
	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/config"
	"github.com/paperhtml/renderd/internal/db"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/lock"
	"github.com/paperhtml/renderd/internal/runner"
	"github.com/paperhtml/renderd/internal/services"
	"github.com/paperhtml/renderd/internal/storage"
	"github.com/paperhtml/renderd/internal/types"
	"github.com/paperhtml/renderd/pkg/api/v1/handlers"
	"github.com/paperhtml/renderd/pkg/api/v1/routes"
)

// App holds the services built from one configuration
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Backend    backend.Backend
	Storage    storage.Storage
	Locker     lock.Locker
	Renders    *services.Renders
	Reconciler *services.Reconciler
	Expiry     *services.Expiry
	Bulk       *services.Bulk
}

// New connects to the database, the execution backend, the output storage
// and the lock store, and builds the services on top of them.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	database, err := db.New(db.OptionsFromConfig(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b, err := backend.New(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution backend: %w", err)
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	locker, err := lock.New(ctx, cfg.Lock)
	if err != nil {
		return nil, fmt.Errorf("failed to create locker: %w", err)
	}

	return Build(cfg, database, b, store, locker), nil
}

// Build wires the services from already connected dependencies
func Build(cfg *config.Config, database *gorm.DB, b backend.Backend, store storage.Storage, locker lock.Locker) *App {
	renderRepo := repos.NewRenderRepository(database)
	documentRepo := repos.NewDocumentRepository(database)

	jobRunner := runner.New(b, runner.Config{
		Image:   cfg.Render.Image,
		Network: cfg.Backend.Network,
		Storage: cfg.Storage,
	})

	expiry := services.NewExpiryService(renderRepo, store, cfg.Render.ExpiryTTL)
	renders := services.NewRenderService(renderRepo, documentRepo, jobRunner, b, locker, expiry, services.RenderOptions{
		WebhookURLPrefix:    cfg.Server.WebhookURLPrefix,
		ServeStaleOnFailure: cfg.Render.ServeStaleOnFailure,
	})

	return &App{
		Config:     cfg,
		DB:         database,
		Backend:    b,
		Storage:    store,
		Locker:     locker,
		Renders:    renders,
		Reconciler: services.NewReconciler(renders, renderRepo, b, cfg.Render.SweepAge),
		Expiry:     expiry,
		Bulk:       services.NewBulkService(documentRepo, jobRunner, b, store),
	}
}

// NewServer creates the fiber app serving the HTTP API
func (a *App) NewServer() *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:      "renderd",
		ErrorHandler: errorHandler,
	})

	server.Use(recover.New())
	server.Use(middleware.Logger())

	routes.RegisterRoutes(server, handlers.NewRenderHandler(a.Renders))

	return server
}

// Close releases the connections held by the app
func (a *App) Close() error {
	var errs []error
	for _, c := range []interface{}{a.Backend, a.Storage, a.Locker} {
		if closer, ok := c.(io.Closer); ok {
			errs = append(errs, closer.Close())
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(types.ErrorResponse{
		Error: err.Error(),
	})
}
