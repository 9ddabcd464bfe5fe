package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperhtml/renderd/internal/backend"
	"github.com/paperhtml/renderd/internal/db/models"
)

func TestReconciler_ReconcileAll(t *testing.T) {
	ts := NewTestSetup(t)
	doc := ts.createDocument(t, sourceFile)

	running := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	exited := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	vanished := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	unstarted := ts.createRender(t, doc.ID, models.RenderStateUnstarted, time.Minute)

	ts.Backend.Exit(exited.JobHandle, 0)
	ts.Backend.Vanish(vanished.JobHandle)

	report, err := ts.Reconciler.ReconcileAll(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Changed)
	assert.Equal(t, 0, report.Failed)

	assert.Equal(t, models.RenderStateRunning, ts.reload(t, running.ID).State)
	assert.Equal(t, models.RenderStateSuccess, ts.reload(t, exited.ID).State)
	assert.True(t, ts.reload(t, exited.ID).JobRemoved)
	assert.Equal(t, models.RenderStateFailure, ts.reload(t, vanished.ID).State)
	assert.Equal(t, models.RenderStateUnstarted, ts.reload(t, unstarted.ID).State)
}

func TestReconciler_Idempotent(t *testing.T) {
	ts := NewTestSetup(t)
	doc := ts.createDocument(t, sourceFile)

	renders := []*models.Render{
		ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute),
		ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute),
		ts.createRender(t, doc.ID, models.RenderStateSuccess, time.Minute),
	}
	ts.Backend.Exit(renders[1].JobHandle, 3)

	_, err := ts.Reconciler.ReconcileAll(ts.ctx)
	require.NoError(t, err)

	before := make(map[uint]models.Render)
	for _, r := range renders {
		before[r.ID] = *ts.reload(t, r.ID)
	}

	report, err := ts.Reconciler.ReconcileAll(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Changed)

	for _, r := range renders {
		after := ts.reload(t, r.ID)
		assert.Equal(t, before[r.ID].State, after.State)
		assert.Equal(t, before[r.ID].JobRemoved, after.JobRemoved)
		assert.Equal(t, before[r.ID].IsExpired, after.IsExpired)
	}
}

func TestReconciler_ContinuesPastFailures(t *testing.T) {
	ts := NewTestSetup(t)
	doc := ts.createDocument(t, sourceFile)
	first := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	second := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)

	ts.Backend.FailInspect(errors.New("connection reset"))
	report, err := ts.Reconciler.ReconcileAll(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 2, report.Failed)

	ts.Backend.FailInspect(nil)
	ts.Backend.Exit(first.JobHandle, 0)
	ts.Backend.Exit(second.JobHandle, 1)
	report, err = ts.Reconciler.ReconcileAll(ts.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, models.RenderStateSuccess, ts.reload(t, first.ID).State)
	assert.Equal(t, models.RenderStateFailure, ts.reload(t, second.ID).State)
}

func TestReconciler_SweepLongRunning(t *testing.T) {
	ts := NewTestSetup(t)
	doc := ts.createDocument(t, sourceFile)

	stuck := ts.createRender(t, doc.ID, models.RenderStateSuccess, 10*time.Minute)
	ts.Backend.SetCreated(stuck.JobHandle, ts.Now.Add(-10*time.Minute))
	young := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	ts.Backend.SetCreated(young.JobHandle, ts.Now.Add(-time.Minute))

	removed, err := ts.Reconciler.SweepLongRunning(ts.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, ts.Backend.Removed(stuck.JobHandle))
	assert.True(t, ts.Backend.Exists(young.JobHandle))
	assert.Equal(t, models.RenderStateSuccess, ts.reload(t, stuck.ID).State)

	removed, err = ts.Reconciler.SweepLongRunning(ts.ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.False(t, ts.Backend.Exists(young.JobHandle))
}

func TestReconciler_SweepSkipsFailedRemovals(t *testing.T) {
	ts := NewTestSetup(t)

	var ids []string
	for i := 0; i < 2; i++ {
		id, err := ts.Backend.Run(ts.ctx, backend.RunSpec{Image: "engrafo"})
		require.NoError(t, err)
		ts.Backend.SetCreated(id, ts.Now.Add(-time.Hour))
		ids = append(ids, id)
	}
	ts.Backend.FailRemove(ids[0], errors.New("removal already in progress"))

	removed, err := ts.Reconciler.SweepLongRunning(ts.ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, ts.Backend.Exists(ids[0]))
	assert.True(t, ts.Backend.Removed(ids[1]))
}

func TestLaunchReconciler(t *testing.T) {
	ts := NewTestSetup(t)
	doc := ts.createDocument(t, sourceFile)
	render := ts.createRender(t, doc.ID, models.RenderStateRunning, time.Minute)
	ts.Backend.Exit(render.JobHandle, 0)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go LaunchReconciler(ctx, &wg, ts.Reconciler, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		stored, err := ts.RenderRepo.GetByID(ts.ctx, render.ID)
		return err == nil && stored.JobRemoved
	}, time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()
	assert.Equal(t, models.RenderStateSuccess, ts.reload(t, render.ID).State)
}
