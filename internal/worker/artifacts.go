package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/engine"
	"github.com/shraga-ai/shraga/pkg/llmcli"
	"github.com/shraga-ai/shraga/pkg/model"
)

// Artifact file names written into the session folder on every terminal state.
const (
	taskPromptFile      = "TASK_PROMPT.md"
	successCriteriaFile = "SUCCESS_CRITERIA.md"
	sessionSummaryFile  = "session_summary.json"
	sessionLogFile      = "SESSION_LOG.md"
	resultFile          = "result.md"
	transcriptFile      = "transcript.md"
	gitHistoryFile      = "GIT_HISTORY.md"
)

// sessionSummary is the structured record persisted as session_summary.json
// and mirrored into the task row's session_summary column.
type sessionSummary struct {
	TaskID         string               `json:"task_id"`
	TaskName       string               `json:"task_name"`
	TerminalStatus string               `json:"terminal_status"`
	Reason         string               `json:"reason,omitempty"`
	Iterations     int                  `json:"iterations"`
	StartedAt      time.Time            `json:"started_at"`
	FinishedAt     time.Time            `json:"finished_at"`
	Phases         []engine.PhaseRecord `json:"phases"`
	Totals         llmcli.PhaseStats    `json:"totals"`
	SessionLink    string               `json:"session_link,omitempty"`
}

// writeTaskInputs writes the prompt and criteria files the agent phases read.
func (w *Worker) writeTaskInputs(sessionDir string, task *model.Task) error {
	prompt := fmt.Sprintf("# %s\n\n%s\n", task.Name, task.Prompt)
	if err := os.WriteFile(filepath.Join(sessionDir, taskPromptFile), []byte(prompt), 0o644); err != nil {
		return err
	}

	criteria := task.ShortDescription
	if criteria == "" {
		criteria = "The task described in " + taskPromptFile + " is fully implemented and working."
	}
	body := "# Success criteria\n\n" + criteria + "\n"
	return os.WriteFile(filepath.Join(sessionDir, successCriteriaFile), []byte(body), 0o644)
}

// writeArtifacts persists every terminal-state artifact. Per-file failures
// are logged and skipped; a half-written session folder is still more useful
// than none.
func (w *Worker) writeArtifacts(ctx context.Context, sessionDir string, task *model.Task,
	res *engine.Result, summary sessionSummary) {
	log := w.logger.WithTaskID(task.ID)

	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(sessionDir, name), []byte(content), 0o644); err != nil {
			log.Warn("failed to write artifact", zap.String("file", name), zap.Error(err))
		}
	}

	summaryJSON, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		write(sessionSummaryFile, string(summaryJSON))
	}

	write(sessionLogFile, renderSessionLog(task, res, summary))
	write(resultFile, res.FinalText+"\n")
	write(transcriptFile, res.Transcript)
	write(gitHistoryFile, gitHistory(ctx, task.WorkingDir))

	if err == nil {
		if serr := w.tasks.WriteSessionSummary(ctx, task.ID, string(summaryJSON)); serr != nil {
			log.Warn("failed to store session summary on task row", zap.Error(serr))
		}
	}
}

// renderSessionLog produces the human-readable SESSION_LOG.md.
func renderSessionLog(task *model.Task, res *engine.Result, summary sessionSummary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session log: %s\n\n", task.Name)
	fmt.Fprintf(&sb, "- Task ID: %s\n", task.ID)
	fmt.Fprintf(&sb, "- Terminal status: %s\n", res.TerminalStatus)
	if res.Reason != "" {
		fmt.Fprintf(&sb, "- Reason: %s\n", res.Reason)
	}
	fmt.Fprintf(&sb, "- Iterations: %d\n", res.Iterations)
	fmt.Fprintf(&sb, "- Started: %s\n", summary.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Finished: %s\n", summary.FinishedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Total cost: $%.4f\n", res.Totals.CostUSD)
	fmt.Fprintf(&sb, "- Total turns: %d\n\n", res.Totals.NumTurns)

	sb.WriteString("## Phases\n\n")
	for _, phase := range res.Phases {
		fmt.Fprintf(&sb, "- **%s**: %s", phase.Name, phase.Status)
		if phase.Error != "" {
			fmt.Fprintf(&sb, " (%s)", phase.Error)
		}
		fmt.Fprintf(&sb, " [cost $%.4f, %d turns]\n", phase.Stats.CostUSD, phase.Stats.NumTurns)
	}
	return sb.String()
}
