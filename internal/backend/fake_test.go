package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhtml/renderd/internal/config"
)

func TestNew(t *testing.T) {
	b, err := New(config.ExecutionBackendConfig{Mode: config.BackendModeFake, RetryAttempts: 1})
	require.NoError(t, err)
	assert.IsType(t, &Fake{}, b)

	_, err = New(config.ExecutionBackendConfig{Mode: "cloud", RetryAttempts: 1})
	assert.Error(t, err)
}

func TestFake_Lifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	id, err := f.Run(ctx, RunSpec{Image: "img", Labels: map[string]string{"k": "v"}})
	require.NoError(t, err)
	require.Len(t, f.Runs(), 1)
	assert.Equal(t, "true", f.Runs()[0].Labels[ManagedLabel])

	status, err := f.Inspect(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
	assert.False(t, status.Exited())

	f.SetLogs(id, "hello")
	f.Exit(id, 2)
	status, err = f.Inspect(ctx, id)
	require.NoError(t, err)
	assert.True(t, status.Exited())
	assert.Equal(t, 2, status.ExitCode)
	assert.Contains(t, string(status.Raw), `"ExitCode":2`)

	logs, err := f.Logs(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", logs)

	code, err := f.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	outcome, err := f.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Removed, outcome)
	assert.True(t, f.Removed(id))

	outcome, err = f.Remove(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, AlreadyGone, outcome)

	_, err = f.Inspect(ctx, id)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestFake_WaitUnblocksOnExit(t *testing.T) {
	f := NewFake()
	id, err := f.Run(context.Background(), RunSpec{Image: "img"})
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Exit(id, 0)
	}()
	code, err := f.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	id, err = f.Run(context.Background(), RunSpec{Image: "img"})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFake_Scripting(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	f.FailRun(errors.New("engine down"))
	_, err := f.Run(ctx, RunSpec{Image: "img"})
	assert.EqualError(t, err, "engine down")
	f.FailRun(nil)

	id, err := f.Run(ctx, RunSpec{Image: "img"})
	require.NoError(t, err)

	f.FailRemove(id, errors.New("busy"))
	outcome, err := f.Remove(ctx, id)
	assert.Error(t, err)
	assert.Equal(t, RemoveFailed, outcome)
	assert.True(t, f.Exists(id))
	f.FailRemove(id, nil)

	past := time.Now().Add(-time.Hour)
	f.SetCreated(id, past)
	list, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CreatedAt.Equal(past))

	f.Vanish(id)
	assert.False(t, f.Exists(id))
	assert.False(t, f.Removed(id))
	_, err = f.Logs(ctx, id)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestRemoveOutcomeString(t *testing.T) {
	assert.Equal(t, "removed", Removed.String())
	assert.Equal(t, "already_gone", AlreadyGone.String())
	assert.Equal(t, "failed", RemoveFailed.String())
}
