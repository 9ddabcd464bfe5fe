package lock

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a process-local Locker
type Memory struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

var _ Locker = (*Memory)(nil)

// NewMemory creates an empty in-process locker
func NewMemory() *Memory {
	return &Memory{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done
func (m *Memory) Lock(ctx context.Context, key string) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.release(key, e, false)
		return nil, fmt.Errorf("%w %s: %v", ErrLockTimeout, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.release(key, e, true) })
	}, nil
}

func (m *Memory) release(key string, e *entry, held bool) {
	if held {
		<-e.ch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
}
