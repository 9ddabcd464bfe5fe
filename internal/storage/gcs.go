package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/paperhtml/renderd/internal/logger"
)

// GCS stores objects in a Google Cloud Storage bucket
type GCS struct {
	client *storage.Client
	bucket string
}

var _ Storage = (*GCS)(nil)

// NewGCS connects to the bucket, using credentialsJSON when set and
// application default credentials otherwise
func NewGCS(ctx context.Context, bucket, credentialsJSON string) (*GCS, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Bucket returns the bucket name
func (g *GCS) Bucket() string {
	return g.bucket
}

// Write uploads r to key
func (g *GCS) Write(ctx context.Context, key string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	if strings.HasSuffix(key, ".json") {
		w.ContentType = "application/json"
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

// Open opens a reader for key
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open GCS reader: %w", err)
	}
	return r, nil
}

// Exists reports whether key is an object or a prefix of one
func (g *GCS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return false, fmt.Errorf("failed to get attrs of %s: %w", key, err)
	}

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: dirPrefix(key)})
	_, err = it.Next()
	if err == iterator.Done {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// listKeys returns every object name below prefix
func (g *GCS) listKeys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// DeletePrefix deletes every object below prefix. Individual delete failures
// are logged and skipped.
func (g *GCS) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := g.listKeys(ctx, dirPrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	if len(keys) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}

	deleted := 0
	for _, k := range keys {
		if err := g.client.Bucket(g.bucket).Object(k).Delete(ctx); err != nil {
			logger.Warnf("Failed to delete GCS object %q in bucket %q: %v", k, g.bucket, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Close closes the underlying client
func (g *GCS) Close() error {
	return g.client.Close()
}

func dirPrefix(key string) string {
	return strings.TrimSuffix(key, "/") + "/"
}
