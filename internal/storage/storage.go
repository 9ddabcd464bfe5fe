// Package storage stores render sources and outputs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/paperhtml/renderd/internal/config"
)

// ErrNotFound is returned when a key or prefix holds no objects.
var ErrNotFound = errors.New("object not found")

// Storage is a flat key space with slash separated keys.
type Storage interface {
	Write(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	// DeletePrefix removes every object below prefix and returns how many
	// were removed. It returns ErrNotFound when there was nothing to remove.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// New creates the storage selected by the configuration
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	switch cfg.Mode {
	case config.StorageModeLocal:
		return NewLocal(cfg.MediaRoot), nil
	case config.StorageModeGCS:
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsJSON)
	default:
		return nil, fmt.Errorf("unsupported storage mode: %s", cfg.Mode)
	}
}
