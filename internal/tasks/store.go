// Package tasks provides the typed operations on the task table: status
// transitions with invariant checks, atomic claiming, cancellation polling,
// queue promotion, and the stale-task sweep.
package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/shraga-ai/shraga/internal/common/errors"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/directory"
	"github.com/shraga-ai/shraga/pkg/model"
)

// Store wraps the directory client with task-table semantics.
type Store struct {
	client *directory.Client
	table  string
	logger *logger.Logger
}

// NewStore creates a task store over the configured tasks table.
func NewStore(client *directory.Client, log *logger.Logger) *Store {
	return &Store{
		client: client,
		table:  client.Tables().Tasks,
		logger: log.WithFields(zap.String("component", "task-store")),
	}
}

// Get fetches a task by id.
func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	row, err := s.client.GetRow(ctx, s.table, id, nil)
	if err != nil {
		return model.Task{}, err
	}
	return TaskFromRow(row), nil
}

// Create inserts a new task row and returns it with the stored id.
func (s *Store) Create(ctx context.Context, task model.Task) (model.Task, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.client.CreateRow(ctx, s.table, map[string]any{
		"id":                task.ID,
		"name":              task.Name,
		"prompt":            task.Prompt,
		"result":            task.Result,
		"transcript":        task.Transcript,
		"status":            int(task.Status),
		"is_mirror":         task.IsMirror,
		"mirror_of":         task.MirrorOf,
		"user_email":        task.UserEmail,
		"dev_box":           task.DevBox,
		"working_dir":       task.WorkingDir,
		"short_description": task.ShortDescription,
		"created_at":        now,
		"modified_at":       now,
	}, false)
	if err != nil {
		return model.Task{}, err
	}
	return task, nil
}

// Transition moves a task to the next status after validating the transition
// against the task lifecycle. The current status is re-read from the store and
// the patch carries its ETag, so a terminal status written by another daemon
// (a user cancel, the stale sweep) is never overwritten. Illegal transitions
// return a LogicError and leave the row untouched. extra fields (result,
// reason, ...) ride along.
func (s *Store) Transition(ctx context.Context, task *model.Task, next model.TaskStatus, extra map[string]any) error {
	row, err := s.client.GetRow(ctx, s.table, task.ID, []string{"status"})
	if err != nil {
		return err
	}
	current := model.TaskStatus(row.Int("status"))
	if !current.CanTransition(next) {
		return apperrors.LogicError(fmt.Sprintf(
			"illegal task transition %s -> %s for task %s", current, next, task.ID))
	}

	fields := map[string]any{
		"status":      int(next),
		"modified_at": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		fields[k] = v
	}

	if err := s.client.UpdateRowTolerant(ctx, s.table, task.ID, fields, row.ETag); err != nil {
		return err
	}
	task.Status = next
	return nil
}

// ClaimRunning attempts the ETag-guarded move of a pending task to Running.
// Returns false when another worker won the race.
func (s *Store) ClaimRunning(ctx context.Context, task *model.Task, workerID string) (bool, error) {
	err := s.client.UpdateRow(ctx, s.table, task.ID, map[string]any{
		"status":             int(model.TaskStatusRunning),
		"assigned_worker_id": workerID,
		"worker_status":      "claimed",
		"modified_at":        time.Now().UTC().Format(time.RFC3339),
	}, task.ETag)
	if err != nil {
		if apperrors.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	task.Status = model.TaskStatusRunning
	task.AssignedWorkerID = workerID
	return true, nil
}

// IsCanceled reports whether the task row has been canceled. Both the
// integer picklist value and the string label are treated as truthy so the
// check works against either column representation.
func (s *Store) IsCanceled(ctx context.Context, id string) bool {
	row, err := s.client.GetRow(ctx, s.table, id, []string{"status"})
	if err != nil {
		return false
	}
	if row.Int("status") == int(model.TaskStatusCanceled) {
		return true
	}
	return row.Str("status") == "Canceled"
}

// PendingAssigned returns the oldest pending task for this worker: assigned
// to it or owned by one of the given users, and either pinned to this host
// or unpinned.
func (s *Store) PendingAssigned(ctx context.Context, workerID, hostname string, userEmails []string) (*model.Task, error) {
	owner := fmt.Sprintf("assigned_worker_id eq %s", directory.EscapeString(workerID))
	for _, email := range userEmails {
		owner = fmt.Sprintf("%s or %s", owner, directory.Eq("user_email", email))
	}
	filter := directory.And(
		directory.EqInt("status", int(model.TaskStatusPending)),
		fmt.Sprintf("(%s)", owner),
		fmt.Sprintf("(dev_box eq %s or dev_box eq null)", directory.EscapeString(hostname)),
	)

	rows, err := s.client.GetRows(ctx, s.table, directory.Query{
		Filter:  filter,
		OrderBy: "created_at asc",
		Top:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	task := TaskFromRow(rows[0])
	return &task, nil
}

// UnmirroredPending returns user-submitted pending tasks that have no mirror
// yet, excluding rows already owned by the admin. Oldest first.
func (s *Store) UnmirroredPending(ctx context.Context, adminEmail string, top int) ([]model.Task, error) {
	rows, err := s.client.GetRows(ctx, s.table, directory.Query{
		Filter: directory.And(
			directory.EqInt("status", int(model.TaskStatusPending)),
			"is_mirror eq false",
			"mirror_task_id eq null",
			fmt.Sprintf("user_email ne %s", directory.EscapeString(adminEmail)),
		),
		OrderBy: "created_at asc",
		Top:     top,
	})
	if err != nil {
		return nil, err
	}
	return tasksFromRows(rows), nil
}

// RunningOnHost returns the tasks currently Running on the given dev box.
// Single-flight: the worker refuses to claim while this is non-empty.
func (s *Store) RunningOnHost(ctx context.Context, hostname string) ([]model.Task, error) {
	rows, err := s.client.GetRows(ctx, s.table, directory.Query{
		Filter: directory.And(
			directory.EqInt("status", int(model.TaskStatusRunning)),
			directory.Eq("dev_box", hostname),
		),
	})
	if err != nil {
		return nil, err
	}
	return tasksFromRows(rows), nil
}

// PromoteQueued moves the oldest Queued task on this host back to Pending so
// a subsequent poll picks it up. One task per call keeps the sweep bounded.
func (s *Store) PromoteQueued(ctx context.Context, hostname string) (bool, error) {
	rows, err := s.client.GetRows(ctx, s.table, directory.Query{
		Filter: directory.And(
			directory.EqInt("status", int(model.TaskStatusQueued)),
			directory.Eq("dev_box", hostname),
		),
		OrderBy: "created_at asc",
		Top:     1,
	})
	if err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}

	task := TaskFromRow(rows[0])
	if err := s.Transition(ctx, &task, model.TaskStatusPending, nil); err != nil {
		return false, err
	}
	s.logger.Info("promoted queued task", zap.String("task_id", task.ID))
	return true, nil
}

// FailStaleRunning fails Running tasks for the user whose modified_at is
// older than age. Used by the personal manager's no-progress sweep.
func (s *Store) FailStaleRunning(ctx context.Context, userEmail string, age time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339)
	rows, err := s.client.GetRows(ctx, s.table, directory.Query{
		Filter: directory.And(
			directory.EqInt("status", int(model.TaskStatusRunning)),
			directory.Eq("user_email", userEmail),
			fmt.Sprintf("modified_at lt %s", cutoff),
		),
	})
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, row := range rows {
		task := TaskFromRow(row)
		err := s.Transition(ctx, &task, model.TaskStatusFailed, map[string]any{
			"result": "Task failed: no progress detected",
		})
		if err != nil {
			s.logger.Warn("failed to sweep stale task",
				zap.String("task_id", task.ID), zap.Error(err))
			continue
		}
		failed++
	}
	return failed, nil
}

// WriteSessionSummary stores the summary JSON on the task row. The column is
// optional in older schemas, so a missing column is non-fatal.
func (s *Store) WriteSessionSummary(ctx context.Context, id, summaryJSON string) error {
	err := s.client.UpdateRowTolerant(ctx, s.table, id, map[string]any{
		"session_summary": summaryJSON,
	}, "")
	if err != nil && apperrors.IsSchemaMismatch(err) {
		s.logger.Warn("session_summary column missing; summary not persisted to row",
			zap.String("task_id", id))
		return nil
	}
	return err
}

// Update patches arbitrary task fields the caller owns (no ETag).
func (s *Store) Update(ctx context.Context, id string, fields map[string]any) error {
	fields["modified_at"] = time.Now().UTC().Format(time.RFC3339)
	return s.client.UpdateRowTolerant(ctx, s.table, id, fields, "")
}

// TaskFromRow converts a raw directory row to a typed task.
func TaskFromRow(row directory.Row) model.Task {
	return model.Task{
		ID:               row.ID,
		Name:             row.Str("name"),
		Prompt:           row.Str("prompt"),
		Result:           row.Str("result"),
		Transcript:       row.Str("transcript"),
		Status:           model.TaskStatus(row.Int("status")),
		IsMirror:         row.Bool("is_mirror"),
		MirrorOf:         row.Str("mirror_of"),
		MirrorTaskID:     row.Str("mirror_task_id"),
		AssignedWorkerID: row.Str("assigned_worker_id"),
		WorkerStatus:     row.Str("worker_status"),
		UserEmail:        row.Str("user_email"),
		DevBox:           row.Str("dev_box"),
		WorkingDir:       row.Str("working_dir"),
		SessionSummary:   row.Str("session_summary"),
		ShortDescription: row.Str("short_description"),
		CreatedAt:        row.Time("created_at"),
		ModifiedAt:       row.Time("modified_at"),
		ETag:             row.ETag,
	}
}

func tasksFromRows(rows []directory.Row) []model.Task {
	out := make([]model.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, TaskFromRow(row))
	}
	return out
}
