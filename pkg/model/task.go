package model

import "time"

// TaskStatus is the integer picklist stored in the task table.
type TaskStatus int

const (
	TaskStatusPending         TaskStatus = 1
	TaskStatusQueued          TaskStatus = 3
	TaskStatusRunning         TaskStatus = 5
	TaskStatusWaitingForInput TaskStatus = 6
	TaskStatusCompleted       TaskStatus = 7
	TaskStatusFailed          TaskStatus = 8
	TaskStatusCanceled        TaskStatus = 9
)

// String returns the picklist label for the status.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "Pending"
	case TaskStatusQueued:
		return "Queued"
	case TaskStatusRunning:
		return "Running"
	case TaskStatusWaitingForInput:
		return "WaitingForInput"
	case TaskStatusCompleted:
		return "Completed"
	case TaskStatusFailed:
		return "Failed"
	case TaskStatusCanceled:
		return "Canceled"
	}
	return "Unknown"
}

// Terminal reports whether the status is absorbing.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCanceled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal transition.
// Terminal states are absorbing.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusQueued || next == TaskStatusRunning || next == TaskStatusCanceled
	case TaskStatusQueued:
		return next == TaskStatusPending || next == TaskStatusCanceled
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusWaitingForInput || next == TaskStatusCanceled
	case TaskStatusWaitingForInput:
		return next == TaskStatusRunning || next == TaskStatusCanceled
	}
	return false
}

// Task is a row in the task table. User-submitted tasks are mirrored into
// admin-owned copies before assignment; the mirror carries the execution state.
type Task struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Prompt           string     `json:"prompt"`
	Result           string     `json:"result"`
	Transcript       string     `json:"transcript"`
	Status           TaskStatus `json:"status"`
	IsMirror         bool       `json:"is_mirror"`
	MirrorOf         string     `json:"mirror_of,omitempty"`
	MirrorTaskID     string     `json:"mirror_task_id,omitempty"`
	AssignedWorkerID string     `json:"assigned_worker_id,omitempty"`
	WorkerStatus     string     `json:"worker_status,omitempty"`
	UserEmail        string     `json:"user_email"`
	DevBox           string     `json:"dev_box,omitempty"`
	WorkingDir       string     `json:"working_dir,omitempty"`
	SessionSummary   string     `json:"session_summary,omitempty"`
	ShortDescription string     `json:"short_description,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ModifiedAt       time.Time  `json:"modified_at"`

	ETag string `json:"-"`
}
