// Package services implements render orchestration: starting jobs, tracking
// their state, expiring stale output and bulk rendering.
package services

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotRenderable is returned when a document has no source the engine
	// can convert.
	ErrNotRenderable = errors.New("document is not renderable")
	// ErrAlreadyStarted is returned by Run on a render that is not unstarted.
	ErrAlreadyStarted = errors.New("render has already been started")
	// ErrWrongState is returned by UpdateState on a render that was never started.
	ErrWrongState = errors.New("render has not been started")
	// ErrRenderNotFound is returned when a render does not exist.
	ErrRenderNotFound = errors.New("render not found")
	// ErrDocumentNotFound is returned when a document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)

// notFound maps a repository lookup error to sentinel, keeping other errors
func notFound(err error, sentinel error, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %d", sentinel, id)
	}
	return err
}
