// Package backend abstracts the container engines render jobs execute on.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/paperhtml/renderd/internal/config"
)

// ManagedLabel marks every container started through a Backend so sweeps
// never touch unrelated containers on a shared engine.
const ManagedLabel = "io.renderd.managed"

// InstanceTypeLabel carries the machine class requested from a hosted engine.
const InstanceTypeLabel = "io.renderd.instance-type"

// Container statuses as reported by Docker-compatible engines
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusExited  = "exited"
	StatusDead    = "dead"
)

// ErrContainerNotFound is returned when the engine no longer knows a container.
var ErrContainerNotFound = errors.New("container not found")

// Mount binds a host path into the job container.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes a detached container to start.
type RunSpec struct {
	Image   string
	Cmd     []string
	Env     map[string]string
	Mounts  []Mount
	Labels  map[string]string
	Network string
}

// ContainerStatus is a point-in-time view of one container.
type ContainerStatus struct {
	ID        string
	Status    string
	ExitCode  int
	CreatedAt time.Time
	// Raw is the engine's full inspect document.
	Raw json.RawMessage
}

// Exited reports whether the container process has stopped.
func (s *ContainerStatus) Exited() bool {
	return s.Status == StatusExited || s.Status == StatusDead
}

// ContainerSummary is a list entry for one container.
type ContainerSummary struct {
	ID        string
	State     string
	CreatedAt time.Time
	Labels    map[string]string
}

// RemoveOutcome is the result of removing a container.
type RemoveOutcome int

// Remove outcomes
const (
	// RemoveFailed means the container may still exist; err carries the cause.
	RemoveFailed RemoveOutcome = iota
	// Removed means this call deleted the container.
	Removed
	// AlreadyGone means the container did not exist anymore.
	AlreadyGone
)

func (o RemoveOutcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case AlreadyGone:
		return "already_gone"
	default:
		return "failed"
	}
}

// Backend runs and manages job containers.
type Backend interface {
	// Run creates and starts a detached container and returns its id.
	Run(ctx context.Context, spec RunSpec) (string, error)
	// Inspect returns ErrContainerNotFound when the container is gone.
	Inspect(ctx context.Context, id string) (*ContainerStatus, error)
	// Logs returns the combined stdout and stderr of the container.
	Logs(ctx context.Context, id string) (string, error)
	// List returns every managed container, running or not.
	List(ctx context.Context) ([]ContainerSummary, error)
	// Remove force-removes a container.
	Remove(ctx context.Context, id string) (RemoveOutcome, error)
	// Wait blocks until the container stops and returns its exit code.
	Wait(ctx context.Context, id string) (int, error)
}

// New creates the backend selected by the configuration
func New(cfg config.ExecutionBackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backend configuration: %w", err)
	}
	switch cfg.Mode {
	case config.BackendModeLocal:
		return NewDocker(cfg)
	case config.BackendModeHosted:
		return NewHosted(cfg)
	case config.BackendModeFake:
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode: %s", cfg.Mode)
	}
}

func withManagedLabel(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[ManagedLabel] = "true"
	return out
}
