// Package worker implements the task-worker daemon: one process per compute
// environment that polls for assigned tasks, runs them through the agent
// engine, and persists the session artifacts. Single-flight per host is
// enforced through the task table, never through local state.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/bus"
	"github.com/shraga-ai/shraga/internal/common/config"
	"github.com/shraga-ai/shraga/internal/common/health"
	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/internal/engine"
	"github.com/shraga-ai/shraga/internal/syncdrive"
	"github.com/shraga-ai/shraga/internal/tasks"
	"github.com/shraga-ai/shraga/pkg/model"
)

const progressBufferSize = 64

// heartbeatInterval throttles the modified_at refresh on the running task
// row. The refresh keeps long runs clear of the stale-task sweep.
const heartbeatInterval = time.Minute

// Worker is the task-worker daemon loop.
type Worker struct {
	tasks      *tasks.Store
	bus        *bus.Bus
	engine     *engine.Engine
	cfg        config.WorkerConfig
	poll       config.PollConfig
	workerID   string
	hostname   string
	userEmails []string
	mapper     *syncdrive.Mapper
	status     *health.Status
	logger     *logger.Logger
}

// New creates a worker. mapper may be nil when no sync share is mounted;
// session folders then land under the work base directory.
func New(taskStore *tasks.Store, b *bus.Bus, eng *engine.Engine, cfg config.WorkerConfig,
	poll config.PollConfig, workerID, hostname string, userEmails []string,
	mapper *syncdrive.Mapper, status *health.Status, log *logger.Logger) *Worker {
	return &Worker{
		tasks:      taskStore,
		bus:        b,
		engine:     eng,
		cfg:        cfg,
		poll:       poll,
		workerID:   workerID,
		hostname:   hostname,
		userEmails: userEmails,
		mapper:     mapper,
		status:     status,
		logger: log.WithFields(
			zap.String("component", "task-worker"),
			zap.String("worker_id", workerID),
			zap.String("hostname", hostname)),
	}
}

// Run polls until the context is canceled or a self-update was applied.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("task worker started",
		zap.Duration("poll_interval", w.poll.IntervalDuration()))

	w.recoverCrashedTask(ctx)

	lastUpdateCheck := time.Now()
	for {
		sleep := w.poll.IntervalDuration()
		busy, err := w.pollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.status.RecordFailure()
			w.logger.Error("poll iteration failed", zap.Error(err))
			sleep *= 2
		}
		w.status.RecordPoll()

		if !busy && time.Since(lastUpdateCheck) >= w.cfg.UpdateCheckIntervalDuration() {
			lastUpdateCheck = time.Now()
			if uerr := w.checkForUpdate(ctx); uerr != nil {
				w.logger.Info("exiting for supervisor restart", zap.Error(uerr))
				return uerr
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("task worker stopping")
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// recoverCrashedTask fails the task the previous process died holding.
func (w *Worker) recoverCrashedTask(ctx context.Context) {
	st := loadState(w.statePath())
	if st.CurrentTaskID == "" {
		return
	}
	w.logger.Warn("recovering task from crashed run", zap.String("task_id", st.CurrentTaskID))

	task, err := w.tasks.Get(ctx, st.CurrentTaskID)
	if err == nil && task.Status == model.TaskStatusRunning {
		err = w.tasks.Transition(ctx, &task, model.TaskStatusFailed, map[string]any{
			"result": "Task failed: worker restarted mid-run",
		})
	}
	if err != nil {
		w.logger.Error("crash recovery failed", zap.String("task_id", st.CurrentTaskID), zap.Error(err))
	}
	w.clearState()
}

// pollOnce runs one scheduling decision. Returns true when a task was
// executed this iteration.
func (w *Worker) pollOnce(ctx context.Context) (bool, error) {
	task, err := w.tasks.PendingAssigned(ctx, w.workerID, w.hostname, w.userEmails)
	if err != nil {
		return false, err
	}

	running, err := w.tasks.RunningOnHost(ctx, w.hostname)
	if err != nil {
		return false, err
	}

	if task == nil {
		if len(running) == 0 {
			if _, perr := w.tasks.PromoteQueued(ctx, w.hostname); perr != nil {
				w.logger.Warn("queue promotion failed", zap.Error(perr))
			}
		}
		return false, nil
	}

	if len(running) > 0 {
		// Another task holds the host; queue this one behind it. The queued
		// row is pinned to this host so promotion can find it later.
		w.logger.Info("host busy, queueing task",
			zap.String("task_id", task.ID), zap.String("running_task_id", running[0].ID))
		return false, w.tasks.Transition(ctx, task, model.TaskStatusQueued, map[string]any{
			"dev_box": w.hostname,
		})
	}

	won, err := w.tasks.ClaimRunning(ctx, task, w.workerID)
	if err != nil {
		return false, err
	}
	if !won {
		w.status.RecordConflict()
		return false, nil
	}
	w.status.RecordClaim()

	w.executeTask(ctx, task)
	return true, nil
}

// executeTask runs one claimed task through the engine and persists every
// artifact. A panic still marks the task Failed before propagating.
func (w *Worker) executeTask(ctx context.Context, task *model.Task) {
	log := w.logger.WithTaskID(task.ID)
	log.Info("executing task", zap.String("name", task.Name))

	if err := saveState(w.statePath(), localState{CurrentTaskID: task.ID, WorkerID: w.workerID}); err != nil {
		log.Warn("failed to persist worker state", zap.Error(err))
	}
	defer func() {
		if r := recover(); r != nil {
			pctx, cancel := terminalWriteContext(ctx)
			defer cancel()
			_ = w.tasks.Update(pctx, task.ID, map[string]any{
				"status": int(model.TaskStatusFailed),
				"result": fmt.Sprintf("Task failed: %v", r),
			})
			w.clearState()
			panic(r)
		}
	}()

	startedAt := time.Now()

	workDir, sessionDir, err := w.prepareDirs(task)
	if err != nil {
		log.Error("failed to prepare directories", zap.Error(err))
		w.finishTask(ctx, task, model.TaskStatusFailed, "Task failed: "+err.Error())
		return
	}
	task.WorkingDir = workDir

	if err := w.writeTaskInputs(sessionDir, task); err != nil {
		log.Error("failed to write task inputs", zap.Error(err))
		w.finishTask(ctx, task, model.TaskStatusFailed, "Task failed: "+err.Error())
		return
	}

	sessionLink := ""
	if w.mapper != nil {
		sessionLink = w.mapper.LocalToWebURL(sessionDir, true)
	}

	progress := make(chan engine.ProgressEvent, progressBufferSize)
	var feed sync.WaitGroup
	feed.Add(1)
	go func() {
		defer feed.Done()
		w.forwardProgress(ctx, progress)
	}()

	res := w.engine.Run(ctx, engine.Input{
		TaskID:       task.ID,
		TaskName:     task.Name,
		WorkDir:      workDir,
		SessionDir:   sessionDir,
		SessionLink:  sessionLink,
		TaskFile:     filepath.Join(sessionDir, taskPromptFile),
		CriteriaFile: filepath.Join(sessionDir, successCriteriaFile),
	}, func(cctx context.Context) bool {
		return w.tasks.IsCanceled(cctx, task.ID)
	}, progress)

	close(progress)
	feed.Wait()

	summary := sessionSummary{
		TaskID:         task.ID,
		TaskName:       task.Name,
		TerminalStatus: res.TerminalStatus,
		Reason:         res.Reason,
		Iterations:     res.Iterations,
		StartedAt:      startedAt,
		FinishedAt:     time.Now(),
		Phases:         res.Phases,
		Totals:         res.Totals,
		SessionLink:    sessionLink,
	}

	if res.TerminalStatus == engine.StatusCompleted {
		if cerr := commitWork(ctx, workDir, "Task "+task.ID+": "+task.Name); cerr != nil {
			log.Warn("failed to commit work", zap.Error(cerr))
		}
	}
	w.writeArtifacts(ctx, sessionDir, task, res, summary)

	next, result := terminalTransition(res)
	w.finishTask(ctx, task, next, result)
	w.clearState()

	log.Info("task finished",
		zap.String("terminal_status", res.TerminalStatus),
		zap.Int("iterations", res.Iterations),
		zap.Float64("cost_usd", res.Totals.CostUSD))

	if _, perr := w.tasks.PromoteQueued(ctx, w.hostname); perr != nil {
		log.Warn("queue promotion failed", zap.Error(perr))
	}
}

// terminalTransition maps an engine outcome to the task-row terminal state.
func terminalTransition(res *engine.Result) (model.TaskStatus, string) {
	switch res.TerminalStatus {
	case engine.StatusCompleted:
		result := res.FinalText
		if result == "" {
			result = "Task completed"
		}
		return model.TaskStatusCompleted, result
	case engine.StatusCanceled:
		return model.TaskStatusCanceled, "Task canceled: " + res.Reason
	case engine.StatusBlocked:
		return model.TaskStatusWaitingForInput, "Task blocked: " + res.Reason
	default:
		return model.TaskStatusFailed, "Task failed: " + res.Reason
	}
}

// terminalWriteContext detaches from the caller's cancellation so a terminal
// status still lands on the row when the daemon is shutting down.
func terminalWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
}

func (w *Worker) finishTask(ctx context.Context, task *model.Task, next model.TaskStatus, result string) {
	wctx, cancel := terminalWriteContext(ctx)
	defer cancel()

	err := w.tasks.Transition(wctx, task, next, map[string]any{
		"result":        result,
		"worker_status": "finished",
	})
	if err != nil {
		w.logger.Error("failed to write terminal task state",
			zap.String("task_id", task.ID), zap.Error(err))
	}
}

// forwardProgress drains engine progress events into the activity feed and
// refreshes the task row's modified_at at most once per heartbeatInterval,
// which keeps a long-running task out of the stale-running sweep.
func (w *Worker) forwardProgress(ctx context.Context, progress <-chan engine.ProgressEvent) {
	var lastBeat time.Time
	for ev := range progress {
		title := ev.Title
		if title == "" {
			title = ev.Phase
		}
		err := w.bus.PostActivity(ctx, model.Activity{
			TaskID:  ev.TaskID,
			From:    w.workerID,
			Title:   title,
			Content: ev.Content,
		})
		if err != nil {
			w.logger.Debug("failed to post activity", zap.Error(err))
		}

		if time.Since(lastBeat) >= heartbeatInterval {
			lastBeat = time.Now()
			if herr := w.tasks.Update(ctx, ev.TaskID, map[string]any{
				"worker_status": "running",
			}); herr != nil {
				w.logger.Debug("failed to heartbeat task row", zap.Error(herr))
			}
		}
	}
}

// prepareDirs resolves the work directory and creates the session folder.
func (w *Worker) prepareDirs(task *model.Task) (workDir, sessionDir string, err error) {
	workDir = task.WorkingDir
	if workDir == "" {
		workDir = filepath.Join(w.cfg.WorkBaseDir, task.ID)
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return "", "", fmt.Errorf("cannot create work dir: %w", err)
	}

	root := w.cfg.WorkBaseDir
	if w.mapper != nil {
		root = w.mapper.Root
	}
	sessionDir, err = syncdrive.CreateSessionFolder(root, task.Name, task.ID)
	if err != nil {
		return "", "", fmt.Errorf("cannot create session folder: %w", err)
	}
	return workDir, sessionDir, nil
}

func (w *Worker) statePath() string {
	return w.cfg.StateFile
}

func (w *Worker) clearState() {
	if err := saveState(w.statePath(), localState{}); err != nil {
		w.logger.Warn("failed to clear worker state", zap.Error(err))
	}
}
