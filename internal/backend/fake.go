package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type fakeContainer struct {
	spec     RunSpec
	status   string
	exitCode int
	created  time.Time
	logs     string
	done     chan struct{}
}

// Fake is an in-memory backend for tests and dry runs. Containers stay
// running until a test calls Exit.
type Fake struct {
	mu         sync.Mutex
	seq        int
	containers map[string]*fakeContainer
	runs       []RunSpec
	removed    map[string]bool
	runErr     error
	inspectErr error
	removeErr  map[string]error
	autoExit   func(RunSpec) (int, bool)
}

var _ Backend = (*Fake)(nil)

// NewFake creates an empty fake backend
func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]*fakeContainer),
		removed:    make(map[string]bool),
		removeErr:  make(map[string]error),
	}
}

// Run records the spec and starts a fake container
func (f *Fake) Run(_ context.Context, spec RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.runErr != nil {
		return "", f.runErr
	}
	f.seq++
	id := fmt.Sprintf("fake%060d", f.seq)
	spec.Labels = withManagedLabel(spec.Labels)
	f.runs = append(f.runs, spec)
	f.containers[id] = &fakeContainer{
		spec:    spec,
		status:  StatusRunning,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	if f.autoExit != nil {
		if code, ok := f.autoExit(spec); ok {
			f.stop(f.containers[id], StatusExited, code)
		}
	}
	return id, nil
}

// Inspect returns the fake container status
func (f *Fake) Inspect(_ context.Context, id string) (*ContainerStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inspectErr != nil {
		return nil, f.inspectErr
	}
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	raw, err := json.Marshal(map[string]interface{}{
		"Id":      id,
		"Created": c.created.Format(time.RFC3339Nano),
		"State": map[string]interface{}{
			"Status":   c.status,
			"ExitCode": c.exitCode,
		},
	})
	if err != nil {
		return nil, err
	}
	return &ContainerStatus{
		ID:        id,
		Status:    c.status,
		ExitCode:  c.exitCode,
		CreatedAt: c.created,
		Raw:       raw,
	}, nil
}

// Logs returns the logs set with SetLogs
func (f *Fake) Logs(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}
	return c.logs, nil
}

// List returns every container still known to the fake
func (f *Fake) List(_ context.Context) ([]ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ContainerSummary, 0, len(f.containers))
	for id, c := range f.containers {
		out = append(out, ContainerSummary{
			ID:        id,
			State:     c.status,
			CreatedAt: c.created,
			Labels:    c.spec.Labels,
		})
	}
	return out, nil
}

// Remove deletes the container unless FailRemove scripted an error
func (f *Fake) Remove(_ context.Context, id string) (RemoveOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.removeErr[id]; err != nil {
		return RemoveFailed, err
	}
	c, ok := f.containers[id]
	if !ok {
		return AlreadyGone, nil
	}
	f.stop(c, StatusExited, c.exitCode)
	delete(f.containers, id)
	f.removed[id] = true
	return Removed, nil
}

// Wait blocks until Exit, Vanish or Remove is called for the container
func (f *Fake) Wait(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrContainerNotFound, id)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.done:
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return c.exitCode, nil
}

func (f *Fake) stop(c *fakeContainer, status string, code int) {
	c.status = status
	c.exitCode = code
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Exit stops a container with the given exit code
func (f *Fake) Exit(id string, code int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.containers[id]; ok {
		f.stop(c, StatusExited, code)
	}
}

// Vanish makes the engine forget a container without recording a removal
func (f *Fake) Vanish(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.containers[id]; ok {
		f.stop(c, StatusDead, c.exitCode)
		delete(f.containers, id)
	}
}

// SetLogs sets the output returned by Logs
func (f *Fake) SetLogs(id, logs string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.containers[id]; ok {
		c.logs = logs
	}
}

// SetCreated overrides the creation time of a container
func (f *Fake) SetCreated(id string, t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.containers[id]; ok {
		c.created = t
	}
}

// FailRun makes every following Run return err; nil clears it
func (f *Fake) FailRun(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runErr = err
}

// SetAutoExit makes Run exit new containers immediately with the code
// returned by fn, when fn reports ok
func (f *Fake) SetAutoExit(fn func(RunSpec) (int, bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoExit = fn
}

// FailInspect makes every following Inspect return err; nil clears it
func (f *Fake) FailInspect(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspectErr = err
}

// FailRemove makes Remove of id return err; nil clears it
func (f *Fake) FailRemove(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		delete(f.removeErr, id)
		return
	}
	f.removeErr[id] = err
}

// Removed reports whether Remove deleted the container
func (f *Fake) Removed(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.removed[id]
}

// Exists reports whether the engine still knows the container
func (f *Fake) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok
}

// Runs returns the specs of every started container in order
func (f *Fake) Runs() []RunSpec {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]RunSpec, len(f.runs))
	copy(out, f.runs)
	return out
}
