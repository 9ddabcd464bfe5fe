// Package lock provides advisory locks keyed by string, used to serialize
// state changes of a single render or document across goroutines and
// processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/paperhtml/renderd/internal/config"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context was done.
var ErrLockTimeout = errors.New("timed out acquiring lock")

// Locker hands out exclusive locks. The returned func releases the lock and
// is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// RenderKey is the lock key serializing state changes of one render
func RenderKey(id uint) string {
	return "render:" + strconv.FormatUint(uint64(id), 10)
}

// DocumentKey is the lock key serializing render selection for one document
func DocumentKey(id uint) string {
	return "document:" + strconv.FormatUint(uint64(id), 10)
}

// New creates the locker selected by the configuration
func New(ctx context.Context, cfg config.LockConfig) (Locker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lock configuration: %w", err)
	}
	switch cfg.Mode {
	case config.LockModeMemory:
		return NewMemory(), nil
	case config.LockModeRedis:
		return NewRedis(ctx, cfg.RedisAddr, cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported lock mode: %s", cfg.Mode)
	}
}
