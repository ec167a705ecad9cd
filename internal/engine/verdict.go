package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// VerdictFile is the file the verifier phase must write into the session folder.
const VerdictFile = "VERDICT.json"

// Verdict is the verifier's structured judgement.
type Verdict struct {
	Approved         bool     `json:"approved"`
	Feedback         string   `json:"feedback"`
	TestingDone      string   `json:"testing_done,omitempty"`
	Results          string   `json:"results,omitempty"`
	CriteriaMet      []string `json:"criteria_met,omitempty"`
	CriteriaFailed   []string `json:"criteria_failed,omitempty"`
	ExpertComparison string   `json:"expert_comparison,omitempty"`
}

// readVerdict loads VERDICT.json from the session folder. A missing or
// invalid file is a not-approved verdict with diagnostic feedback, never an
// error: the worker loop feeds that feedback into the next iteration.
func readVerdict(sessionDir string) Verdict {
	path := filepath.Join(sessionDir, VerdictFile)

	data, err := os.ReadFile(path)
	if err != nil {
		return Verdict{
			Approved: false,
			Feedback: fmt.Sprintf("Verifier did not produce %s: %v", VerdictFile, err),
		}
	}

	var v Verdict
	if err := json.Unmarshal(data, &v); err != nil {
		return Verdict{
			Approved: false,
			Feedback: fmt.Sprintf("Verifier wrote invalid JSON in %s: %v", VerdictFile, err),
		}
	}
	return v
}
