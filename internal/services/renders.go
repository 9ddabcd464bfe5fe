package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/db/models"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/lock"
	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/internal/runner"
)

// Labels set on every render container
const (
	LabelRenderID   = "io.renderd.render-id"
	LabelDocumentID = "io.renderd.document-id"
)

// WebhookPath is the path jobs report their exit code on
const WebhookPath = "/renders/%d/update-state"

// RenderOptions configures the render service
type RenderOptions struct {
	// WebhookURLPrefix is the base URL jobs can reach this service on
	WebhookURLPrefix string
	// ServeStaleOnFailure returns an expired success instead of a newer
	// failure when both exist
	ServeStaleOnFailure bool
}

// Renders owns the render state machine
type Renders struct {
	renders   *repos.RenderRepository
	documents *repos.DocumentRepository
	runner    *runner.Runner
	backend   backend.Backend
	locker    lock.Locker
	expiry    *Expiry
	opts      RenderOptions
	now       func() time.Time
}

// NewRenderService creates a new render service
func NewRenderService(
	renderRepo *repos.RenderRepository,
	documentRepo *repos.DocumentRepository,
	jobRunner *runner.Runner,
	b backend.Backend,
	locker lock.Locker,
	expiry *Expiry,
	opts RenderOptions,
) *Renders {
	return &Renders{
		renders:   renderRepo,
		documents: documentRepo,
		runner:    jobRunner,
		backend:   b,
		locker:    locker,
		expiry:    expiry,
		opts:      opts,
		now:       time.Now,
	}
}

// WebhookURL returns the URL the job of render id calls when it finishes
func (s *Renders) WebhookURL(id uint) string {
	return strings.TrimSuffix(s.opts.WebhookURLPrefix, "/") + fmt.Sprintf(WebhookPath, id)
}

// GetByID retrieves a render
func (s *Renders) GetByID(ctx context.Context, id uint) (*models.Render, error) {
	render, err := s.renders.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrRenderNotFound, id)
	}
	return render, nil
}

// GetState returns the state of a render
func (s *Renders) GetState(ctx context.Context, id uint) (models.RenderState, error) {
	render, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return render.State, nil
}

// LatestForDocument returns the newest render of a document
func (s *Renders) LatestForDocument(ctx context.Context, documentID uint) (*models.Render, error) {
	if _, err := s.document(ctx, documentID); err != nil {
		return nil, err
	}
	render, err := s.renders.Latest(ctx, documentID, repos.RenderFilter{})
	if err != nil {
		return nil, err
	}
	if render == nil {
		return nil, fmt.Errorf("%w: document %d has no renders", ErrRenderNotFound, documentID)
	}
	return render, nil
}

// ListForDocument returns one page of the renders of a document, newest
// first, and the total number of renders the document has
func (s *Renders) ListForDocument(ctx context.Context, documentID uint, opts *models.ListOptions) ([]models.Render, int64, error) {
	if _, err := s.document(ctx, documentID); err != nil {
		return nil, 0, err
	}
	total, err := s.renders.CountByDocument(ctx, documentID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count renders: %w", err)
	}
	renders, err := s.renders.ListByDocument(ctx, documentID, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list renders: %w", err)
	}
	return renders, total, nil
}

// RenderNow starts a new render of a document. When the document already has
// a running render, that render is returned instead.
func (s *Renders) RenderNow(ctx context.Context, documentID uint) (*models.Render, error) {
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.DocumentKey(doc.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	running, err := s.runningRender(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if running != nil {
		logger.Debugf("Document %d already has running render %d", doc.ID, running.ID)
		return running, nil
	}
	return s.startNew(ctx, doc)
}

// GetRenderToDisplay returns the render to show for a document, starting a
// new one when nothing usable exists.
//
// Deleted renders are never candidates. In order of preference: the latest
// unexpired success, the latest running render (expired or not), and the latest
// unexpired failure (or, with ServeStaleOnFailure, the latest expired success
// in its place). Anything else starts a new render.
func (s *Renders) GetRenderToDisplay(ctx context.Context, documentID uint) (*models.Render, error) {
	doc, err := s.document(ctx, documentID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, lock.DocumentKey(doc.ID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	render, err := s.selectForDisplay(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	if render != nil {
		return render, nil
	}
	return s.startNew(ctx, doc)
}

func (s *Renders) selectForDisplay(ctx context.Context, documentID uint) (*models.Render, error) {
	live := func(state models.RenderState) repos.RenderFilter {
		return repos.RenderFilter{
			States:         []models.RenderState{state},
			ExcludeExpired: true,
			ExcludeDeleted: true,
		}
	}

	for {
		success, err := s.renders.Latest(ctx, documentID, live(models.RenderStateSuccess))
		if err != nil {
			return nil, err
		}
		if success == nil {
			break
		}
		expired, err := s.expiry.MarkExpiredIfStale(ctx, success, s.now())
		if err != nil {
			return nil, err
		}
		if !expired {
			return success, nil
		}
	}

	running, err := s.runningRender(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if running != nil {
		return running, nil
	}

	failure, err := s.renders.Latest(ctx, documentID, live(models.RenderStateFailure))
	if err != nil {
		return nil, err
	}
	if failure == nil {
		return nil, nil
	}
	if s.opts.ServeStaleOnFailure {
		stale, err := s.renders.Latest(ctx, documentID, repos.RenderFilter{
			States:         []models.RenderState{models.RenderStateSuccess},
			ExcludeDeleted: true,
		})
		if err != nil {
			return nil, err
		}
		if stale != nil {
			return stale, nil
		}
	}
	return failure, nil
}

// runningRender returns the latest running render of a document. Expired
// renders count: their job is still alive and a second one must not start.
func (s *Renders) runningRender(ctx context.Context, documentID uint) (*models.Render, error) {
	return s.renders.Latest(ctx, documentID, repos.RenderFilter{
		States:         []models.RenderState{models.RenderStateRunning},
		ExcludeDeleted: true,
	})
}

// startNew creates a render for doc and runs it. Callers hold the document lock.
func (s *Renders) startNew(ctx context.Context, doc *models.Document) (*models.Render, error) {
	if !doc.IsRenderable() {
		return nil, fmt.Errorf("%w: document %d", ErrNotRenderable, doc.ID)
	}

	render := &models.Render{DocumentID: doc.ID}
	if err := s.renders.Create(ctx, render); err != nil {
		return nil, fmt.Errorf("failed to create render: %w", err)
	}
	if err := s.run(ctx, render, doc); err != nil {
		return nil, err
	}
	return render, nil
}

// Run starts the job of an unstarted render and moves it to running
func (s *Renders) Run(ctx context.Context, render *models.Render) error {
	if render.State != models.RenderStateUnstarted {
		logger.ErrorWithFields("Render has already been started", map[string]interface{}{
			"render_id": render.ID,
			"state":     render.State.String(),
		})
		return fmt.Errorf("%w: render %d is %s", ErrAlreadyStarted, render.ID, render.State)
	}

	doc, err := s.document(ctx, render.DocumentID)
	if err != nil {
		return err
	}
	return s.run(ctx, render, doc)
}

func (s *Renders) run(ctx context.Context, render *models.Render, doc *models.Document) error {
	handle, err := s.runner.Start(ctx, runner.Job{
		Source:     doc.SourceFile,
		Output:     render.OutputPath(),
		WebhookURL: s.WebhookURL(render.ID),
		Labels: map[string]string{
			LabelRenderID:   strconv.FormatUint(uint64(render.ID), 10),
			LabelDocumentID: strconv.FormatUint(uint64(doc.ID), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to run render %d: %w", render.ID, err)
	}

	render.JobHandle = handle
	render.State = models.RenderStateRunning
	if err := s.renders.UpdateJob(ctx, render); err != nil {
		return fmt.Errorf("failed to save running render %d: %w", render.ID, err)
	}
	logger.Infof("Render %d of document %d running in container %s", render.ID, doc.ID, render.ShortJobHandle())
	return nil
}

// HandleWebhook applies an exit code reported by a running job. An empty
// exit code falls back to the container's own, as reconciliation does.
func (s *Renders) HandleWebhook(ctx context.Context, id uint, exitCode string) (*models.Render, error) {
	if _, err := s.renders.GetActiveByID(ctx, id); err != nil {
		return nil, notFound(err, ErrRenderNotFound, id)
	}
	if exitCode == "" {
		return s.UpdateState(ctx, id, nil)
	}
	return s.UpdateState(ctx, id, &exitCode)
}

// UpdateState syncs a render with its container.
//
// With exitCode set (webhook path) that code decides the outcome, since the
// container is still busy calling back. Without it (reconciliation path) the
// exit code of an exited container is used. Logs and the inspect snapshot
// are saved before the outcome is interpreted. Terminal states are never
// changed; an exited container is removed.
func (s *Renders) UpdateState(ctx context.Context, id uint, exitCode *string) (*models.Render, error) {
	render, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if render.State == models.RenderStateUnstarted {
		return nil, s.wrongState(render)
	}

	unlock, err := s.locker.Lock(ctx, lock.RenderKey(id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	if render, err = s.GetByID(ctx, id); err != nil {
		return nil, err
	}
	if render.State == models.RenderStateUnstarted {
		return nil, s.wrongState(render)
	}

	status, err := s.backend.Inspect(ctx, render.JobHandle)
	if errors.Is(err, backend.ErrContainerNotFound) {
		render.JobRemoved = true
		if render.State == models.RenderStateRunning {
			logger.Warnf("Container %s of running render %d vanished, marking as failed", render.ShortJobHandle(), render.ID)
			render.State = models.RenderStateFailure
		}
		if err := s.renders.UpdateJob(ctx, render); err != nil {
			return nil, fmt.Errorf("failed to save render %d: %w", render.ID, err)
		}
		return render, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to inspect job of render %d: %w", render.ID, err)
	}

	render.JobInspect = status.Raw
	logs, err := s.backend.Logs(ctx, render.JobHandle)
	if err != nil {
		logger.Warnf("Failed to get logs of render %d: %v", render.ID, err)
	} else {
		render.JobLogs = logs
	}
	if err := s.renders.UpdateJob(ctx, render); err != nil {
		return nil, fmt.Errorf("failed to save job snapshot of render %d: %w", render.ID, err)
	}

	if exitCode == nil && status.Exited() {
		code := strconv.Itoa(status.ExitCode)
		exitCode = &code
	}

	if exitCode != nil && render.State == models.RenderStateRunning {
		if strings.TrimSpace(*exitCode) == "0" {
			render.State = models.RenderStateSuccess
		} else {
			render.State = models.RenderStateFailure
		}
		logger.Infof("Render %d finished with exit code %s: %s", render.ID, strings.TrimSpace(*exitCode), render.State)
	}

	if status.Exited() {
		outcome, err := s.backend.Remove(ctx, render.JobHandle)
		switch outcome {
		case backend.Removed, backend.AlreadyGone:
			render.JobRemoved = true
		default:
			logger.Warnf("Failed to remove container %s of render %d, will retry: %v", render.ShortJobHandle(), render.ID, err)
		}
	}

	if err := s.renders.UpdateJob(ctx, render); err != nil {
		return nil, fmt.Errorf("failed to save render %d: %w", render.ID, err)
	}
	return render, nil
}

func (s *Renders) wrongState(render *models.Render) error {
	logger.ErrorWithFields("Render state update before it was started", map[string]interface{}{
		"render_id": render.ID,
	})
	return fmt.Errorf("%w: render %d", ErrWrongState, render.ID)
}

func (s *Renders) document(ctx context.Context, id uint) (*models.Document, error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrDocumentNotFound, id)
	}
	return doc, nil
}
