package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/db/models"
	"github.com/paperhtml/renderd/internal/db/repos"
	"github.com/paperhtml/renderd/internal/logger"
	"github.com/paperhtml/renderd/internal/runner"
	"github.com/paperhtml/renderd/internal/storage"
)

// Bulk render defaults
const (
	DefaultBulkConcurrency = 10
	DefaultBulkStagger     = 100 * time.Millisecond
	DefaultBulkWaitTimeout = time.Hour
	ManifestName           = "manifest.json"
)

// BulkOptions configures one bulk render run
type BulkOptions struct {
	// OutputPrefix is the storage prefix outputs and the manifest go under
	OutputPrefix string
	Concurrency  int
	// Stagger is the minimum delay between two job starts
	Stagger time.Duration
	// WaitTimeout bounds how long a single job may run
	WaitTimeout time.Duration
}

// ManifestEntry records one successful bulk render
type ManifestEntry struct {
	DocumentID string `json:"document_id"`
	OutputPath string `json:"output_path"`
}

// Bulk renders many documents outside the render record lifecycle
type Bulk struct {
	documents *repos.DocumentRepository
	runner    *runner.Runner
	backend   backend.Backend
	storage   storage.Storage
}

// NewBulkService creates a new bulk render coordinator
func NewBulkService(documents *repos.DocumentRepository, jobRunner *runner.Runner, b backend.Backend, store storage.Storage) *Bulk {
	return &Bulk{
		documents: documents,
		runner:    jobRunner,
		backend:   b,
		storage:   store,
	}
}

// ReadIDs reads whitespace separated document ids from a storage object
func (b *Bulk) ReadIDs(ctx context.Context, key string) ([]string, error) {
	rc, err := b.storage.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var ids []string
	scanner := bufio.NewScanner(rc)
	scanner.Split(bufio.ScanWords)
	for scanner.Scan() {
		ids = append(ids, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ids from %s: %w", key, err)
	}
	return ids, nil
}

// Render renders every renderable document in externalIDs and writes a
// manifest of the successful ones. Failures of single documents are logged
// and left out of the manifest.
func (b *Bulk) Render(ctx context.Context, externalIDs []string, opts BulkOptions) ([]ManifestEntry, error) {
	opts = withBulkDefaults(opts)

	docs, err := b.renderable(ctx, externalIDs)
	if err != nil {
		return nil, err
	}
	logger.Infof("Bulk rendering %d of %d documents with concurrency %d", len(docs), len(externalIDs), opts.Concurrency)

	var (
		mu       sync.Mutex
		manifest = make([]ManifestEntry, 0, len(docs))
	)
	limiter := rate.NewLimiter(rate.Every(opts.Stagger), 1)

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for i := range docs {
		doc := docs[i]
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			entry, err := b.renderOne(ctx, &doc, opts)
			if err != nil {
				logger.ErrorWithFields("Bulk render failed", map[string]interface{}{
					"document_id": doc.ExternalID,
					"error":       err.Error(),
				})
				return nil
			}
			mu.Lock()
			manifest = append(manifest, *entry)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(manifest, func(i, j int) bool { return manifest[i].DocumentID < manifest[j].DocumentID })
	if err := b.writeManifest(ctx, opts.OutputPrefix, manifest); err != nil {
		return manifest, err
	}
	if ctx.Err() != nil {
		return manifest, ctx.Err()
	}
	logger.Infof("Bulk render finished, %d of %d succeeded", len(manifest), len(docs))
	return manifest, nil
}

// renderable looks up the documents and drops those that cannot be rendered
func (b *Bulk) renderable(ctx context.Context, externalIDs []string) ([]models.Document, error) {
	found, err := b.documents.ListByExternalIDs(ctx, externalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to look up documents: %w", err)
	}
	byID := make(map[string]models.Document, len(found))
	for _, doc := range found {
		byID[doc.ExternalID] = doc
	}

	out := make([]models.Document, 0, len(found))
	seen := make(map[string]bool, len(externalIDs))
	for _, id := range externalIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		doc, ok := byID[id]
		switch {
		case !ok:
			logger.Warnf("%s is not a known document, skipping", id)
		case doc.SourceFile == "":
			logger.Warnf("%s has no source file, skipping", id)
		case !doc.IsRenderable():
			logger.Warnf("%s source is not renderable, skipping", id)
		default:
			out = append(out, doc)
		}
	}
	return out, nil
}

// renderOne runs a single job to completion and removes its container
func (b *Bulk) renderOne(ctx context.Context, doc *models.Document, opts BulkOptions) (entry *ManifestEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic rendering %s: %v", doc.ExternalID, r)
		}
	}()

	logger.Infof("Rendering %s", doc.ExternalID)
	output := path.Join(opts.OutputPrefix, doc.OutputName())
	handle, err := b.runner.Start(ctx, runner.Job{Source: doc.SourceFile, Output: output})
	if err != nil {
		return nil, err
	}
	defer func() {
		removeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if outcome, rerr := b.backend.Remove(removeCtx, handle); outcome == backend.RemoveFailed {
			logger.Warnf("Failed to remove bulk container %s: %v", handle, rerr)
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()
	code, err := b.backend.Wait(waitCtx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for %s: %w", doc.ExternalID, err)
	}
	if code != 0 {
		return nil, fmt.Errorf("render of %s exited with code %d", doc.ExternalID, code)
	}
	return &ManifestEntry{DocumentID: doc.ExternalID, OutputPath: output}, nil
}

func (b *Bulk) writeManifest(ctx context.Context, prefix string, manifest []ManifestEntry) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := path.Join(prefix, ManifestName)
	if err := b.storage.Write(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	logger.Infof("Wrote manifest with %d entries to %s", len(manifest), key)
	return nil
}

func withBulkDefaults(opts BulkOptions) BulkOptions {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBulkConcurrency
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultBulkStagger
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultBulkWaitTimeout
	}
	return opts
}
