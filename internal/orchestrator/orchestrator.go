// Package orchestrator transforms user-submitted task rows into admin-owned
// mirrors and assigns them round-robin across the configured worker pool. The
// mirror keeps the user's row as a stable read surface while workers mutate
// only the admin copy.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/pkg/model"
)

const (
	discoveryBatchSize = 20
	// mirrorLinkRetries bounds the attempts to patch mirror_task_id back
	// onto the original row.
	mirrorLinkRetries = 3
)

// Orchestrator is the mirroring-and-assignment daemon loop.
type Orchestrator struct {
	tasks  *tasks.Store
	cfg    config.OrchestratorConfig
	poll   config.PollConfig
	state  State
	status *health.Status
	logger *logger.Logger
}

// New creates an orchestrator, loading the persisted round-robin cursor.
func New(taskStore *tasks.Store, cfg config.OrchestratorConfig, poll config.PollConfig,
	status *health.Status, log *logger.Logger) (*Orchestrator, error) {
	st, err := LoadState(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	st.AdminUserID = cfg.AdminEmail
	st.SharedWorkers = cfg.WorkerPool

	o := &Orchestrator{
		tasks:  taskStore,
		cfg:    cfg,
		poll:   poll,
		state:  st,
		status: status,
		logger: log.WithFields(zap.String("component", "orchestrator")),
	}
	return o, nil
}

// Run polls until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		zap.Int("pool_size", len(o.cfg.WorkerPool)),
		zap.Duration("poll_interval", o.poll.IntervalDuration()))

	for {
		sleep := o.poll.IntervalDuration()
		if err := o.pollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.status.RecordFailure()
			o.logger.Error("poll iteration failed", zap.Error(err))
			sleep *= 2
		}
		o.status.RecordPoll()

		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) error {
	pending, err := o.tasks.UnmirroredPending(ctx, o.cfg.AdminEmail, discoveryBatchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if len(o.cfg.WorkerPool) == 0 {
		o.logger.Warn("worker pool is empty; tasks remain pending",
			zap.Int("pending", len(pending)))
	}

	for i := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := o.mirrorAndAssign(ctx, &pending[i]); err != nil {
			o.logger.Error("failed to process pending task",
				zap.String("task_id", pending[i].ID), zap.Error(err))
			continue
		}
		// Pacing between mirror creations avoids burst traffic against
		// the store.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.PacingDuration()):
		}
	}
	return nil
}

// mirrorAndAssign creates the admin-owned mirror of a user task, links it
// back, and hands the mirror to the next pool worker.
func (o *Orchestrator) mirrorAndAssign(ctx context.Context, original *model.Task) error {
	log := o.logger.WithFields(zap.String("task_id", original.ID))

	mirror, err := o.tasks.Create(ctx, model.Task{
		Name:             original.Name,
		Prompt:           original.Prompt,
		UserEmail:        original.UserEmail,
		ShortDescription: original.ShortDescription,
		WorkingDir:       original.WorkingDir,
		DevBox:           original.DevBox,
		IsMirror:         true,
		MirrorOf:         original.ID,
		Status:           model.TaskStatusPending,
	})
	if err != nil {
		return err
	}
	log.Info("created mirror task", zap.String("mirror_id", mirror.ID))

	o.linkMirror(ctx, original.ID, mirror.ID)
	o.status.RecordClaim()

	worker := o.nextWorker()
	if worker == "" {
		return nil // pool empty; the mirror stays Pending for later
	}
	// The mirror stays Pending: the assigned worker discovers it through its
	// pending-task poll and performs the Pending->Running claim itself.
	err = o.tasks.Update(ctx, mirror.ID, map[string]any{
		"assigned_worker_id": worker,
		"worker_status":      "assigned",
	})
	if err != nil {
		return err
	}
	log.Info("assigned mirror task",
		zap.String("mirror_id", mirror.ID), zap.String("worker", worker))
	return nil
}

// linkMirror patches mirror_task_id onto the original row. Best-effort with
// bounded retries: an unlinked original would be re-mirrored, which is worse
// than a delayed link, so failures are retried immediately.
func (o *Orchestrator) linkMirror(ctx context.Context, originalID, mirrorID string) {
	var err error
	for attempt := 1; attempt <= mirrorLinkRetries; attempt++ {
		err = o.tasks.Update(ctx, originalID, map[string]any{
			"mirror_task_id": mirrorID,
		})
		if err == nil {
			return
		}
		o.logger.Warn("failed to link mirror to original",
			zap.String("task_id", originalID),
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	o.status.RecordFailure()
	o.logger.Error("giving up linking mirror",
		zap.String("task_id", originalID), zap.String("mirror_id", mirrorID), zap.Error(err))
}

// nextWorker advances the persisted round-robin cursor and returns the chosen
// worker id, or "" when the pool is empty.
func (o *Orchestrator) nextWorker() string {
	pool := o.state.SharedWorkers
	if len(pool) == 0 {
		return ""
	}
	worker := pool[o.state.NextWorker%len(pool)]
	o.state.NextWorker = (o.state.NextWorker + 1) % len(pool)
	if err := SaveState(o.cfg.StateFile, o.state); err != nil {
		o.logger.Warn("failed to persist orchestrator state", zap.Error(err))
	}
	return worker
}
