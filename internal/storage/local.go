package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores objects as files below a root directory
type Local struct {
	root string
}

var _ Storage = (*Local)(nil)

// NewLocal creates a storage rooted at dir
func NewLocal(dir string) *Local {
	return &Local{root: dir}
}

// Root returns the directory objects are stored in
func (l *Local) Root() string {
	return l.root
}

func (l *Local) path(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimPrefix(key, "/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

// Write stores r at key, creating parent directories
func (l *Local) Write(_ context.Context, key string, r io.Reader) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	f, err := os.Create(p)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return f.Close()
}

// Open opens the object at key
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return f, nil
}

// Exists reports whether an object or directory exists at key
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return true, nil
}

// DeletePrefix removes the directory at prefix and everything below it
func (l *Local) DeletePrefix(_ context.Context, prefix string) (int, error) {
	p, err := l.path(prefix)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, prefix)
	}

	count := 0
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk %s: %w", prefix, err)
	}

	if err := os.RemoveAll(p); err != nil {
		return 0, fmt.Errorf("failed to remove %s: %w", prefix, err)
	}
	return count, nil
}
