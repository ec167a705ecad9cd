package tasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/internal/directory/dirtest"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/pkg/model"
)

func newTestStore(t *testing.T) (*tasks.Store, *dirtest.Server) {
	t.Helper()
	server := dirtest.New()
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	require.NoError(t, err)

	client := directory.NewClient(server.URL, directory.Tables{Tasks: "tasks"},
		&directory.StaticTokenProvider{Value: "t"}, log)
	return tasks.NewStore(client, log), server
}

func seedTask(server *dirtest.Server, id string, status model.TaskStatus, extra map[string]any) string {
	fields := map[string]any{
		"id":          id,
		"name":        "task " + id,
		"status":      int(status),
		"created_at":  time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
		"modified_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return server.Seed("tasks", fields)
}

func TestTransition(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	t.Run("legal transition lands with modified_at", func(t *testing.T) {
		seedTask(server, "t-1", model.TaskStatusRunning, nil)
		task, err := store.Get(ctx, "t-1")
		require.NoError(t, err)

		err = store.Transition(ctx, &task, model.TaskStatusCompleted, map[string]any{"result": "done"})
		require.NoError(t, err)
		assert.Equal(t, model.TaskStatusCompleted, task.Status)

		fields := server.Fields("tasks", "t-1")
		assert.EqualValues(t, int(model.TaskStatusCompleted), fields["status"])
		assert.Equal(t, "done", fields["result"])
	})

	t.Run("stored terminal status is absorbing", func(t *testing.T) {
		seedTask(server, "t-3", model.TaskStatusRunning, nil)
		task, err := store.Get(ctx, "t-3")
		require.NoError(t, err)

		// A cancel lands from elsewhere after the worker read the row.
		require.NoError(t, store.Update(ctx, "t-3", map[string]any{
			"status": int(model.TaskStatusCanceled),
		}))

		err = store.Transition(ctx, &task, model.TaskStatusCompleted, map[string]any{"result": "done"})
		require.Error(t, err)

		fields := server.Fields("tasks", "t-3")
		assert.EqualValues(t, int(model.TaskStatusCanceled), fields["status"])
		assert.Nil(t, fields["result"])
	})

	t.Run("illegal transition is rejected locally", func(t *testing.T) {
		seedTask(server, "t-2", model.TaskStatusCompleted, nil)
		task, err := store.Get(ctx, "t-2")
		require.NoError(t, err)

		err = store.Transition(ctx, &task, model.TaskStatusRunning, nil)
		require.Error(t, err)
		// Row untouched.
		assert.EqualValues(t, int(model.TaskStatusCompleted), server.Fields("tasks", "t-2")["status"])
	})
}

func TestClaimRunningRace(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()
	seedTask(server, "t-1", model.TaskStatusPending, nil)

	first, err := store.Get(ctx, "t-1")
	require.NoError(t, err)
	second := first

	won, err := store.ClaimRunning(ctx, &first, "worker-a")
	require.NoError(t, err)
	assert.True(t, won)

	won, err = store.ClaimRunning(ctx, &second, "worker-b")
	require.NoError(t, err)
	assert.False(t, won)

	assert.Equal(t, "worker-a", server.Fields("tasks", "t-1")["assigned_worker_id"])
}

func TestIsCanceled(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	seedTask(server, "t-int", model.TaskStatusCanceled, nil)
	server.Seed("tasks", map[string]any{"id": "t-str", "status": "Canceled"})
	seedTask(server, "t-run", model.TaskStatusRunning, nil)

	assert.True(t, store.IsCanceled(ctx, "t-int"))
	assert.True(t, store.IsCanceled(ctx, "t-str"))
	assert.False(t, store.IsCanceled(ctx, "t-run"))
	assert.False(t, store.IsCanceled(ctx, "missing"))
}

func TestPromoteQueued(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	seedTask(server, "t-q", model.TaskStatusQueued, map[string]any{"dev_box": "host-1"})

	promoted, err := store.PromoteQueued(ctx, "host-1")
	require.NoError(t, err)
	assert.True(t, promoted)
	assert.EqualValues(t, int(model.TaskStatusPending), server.Fields("tasks", "t-q")["status"])

	promoted, err = store.PromoteQueued(ctx, "host-1")
	require.NoError(t, err)
	assert.False(t, promoted)
}

func TestFailStaleRunning(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	seedTask(server, "t-stale", model.TaskStatusRunning, map[string]any{
		"user_email":  "alice@ex.com",
		"modified_at": time.Now().UTC().Add(-2 * time.Hour).Format(time.RFC3339),
	})

	failed, err := store.FailStaleRunning(ctx, "alice@ex.com", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	fields := server.Fields("tasks", "t-stale")
	assert.EqualValues(t, int(model.TaskStatusFailed), fields["status"])
	assert.Equal(t, "Task failed: no progress detected", fields["result"])
}

func TestWriteSessionSummaryMissingColumn(t *testing.T) {
	store, server := newTestStore(t)
	ctx := context.Background()

	seedTask(server, "t-1", model.TaskStatusRunning, nil)
	server.RejectColumns["session_summary"] = true

	// Missing column must be swallowed, not surfaced.
	require.NoError(t, store.WriteSessionSummary(ctx, "t-1", `{"iterations":1}`))
}

func TestTaskLifecycleRules(t *testing.T) {
	assert.True(t, model.TaskStatusPending.CanTransition(model.TaskStatusRunning))
	assert.True(t, model.TaskStatusRunning.CanTransition(model.TaskStatusWaitingForInput))
	assert.True(t, model.TaskStatusWaitingForInput.CanTransition(model.TaskStatusRunning))
	assert.False(t, model.TaskStatusCompleted.CanTransition(model.TaskStatusRunning))
	assert.False(t, model.TaskStatusFailed.CanTransition(model.TaskStatusPending))
	assert.True(t, model.TaskStatusCompleted.Terminal())
	assert.False(t, model.TaskStatusQueued.Terminal())
}
