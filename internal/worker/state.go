package worker

import (
	"encoding/json"
	"os"
)

// localState is the worker's crash-recovery file. current_task_id is set for
// the duration of a task run; finding it non-empty at startup means the
// previous process died mid-task.
type localState struct {
	CurrentTaskID string `json:"current_task_id"`
	WorkerID      string `json:"worker_id"`
}

func loadState(path string) localState {
	var st localState
	data, err := os.ReadFile(path)
	if err != nil {
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return localState{}
	}
	return st
}

func saveState(path string, st localState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
