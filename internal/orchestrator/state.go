package orchestrator

import (
	"encoding/json"
	"os"
)

// State is the orchestrator's local persistence: the admin identity and the
// last-known worker pool, written on every change with write-tempfile-rename.
type State struct {
	AdminUserID   string   `json:"admin_user_id"`
	SharedWorkers []string `json:"shared_workers"`
	// NextWorker is the round-robin cursor into SharedWorkers.
	NextWorker int `json:"next_worker"`
}

// LoadState reads the state file, returning a zero state when absent.
func LoadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state resets the cursor; assignment stays fair enough.
		return State{}, nil
	}
	return st, nil
}

// SaveState persists the state atomically.
func SaveState(path string, st State) error {
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
