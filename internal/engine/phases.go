package engine

import (
	"fmt"
	"strings"
)

// Phase names as they appear in session summaries and progress titles.
const (
	PhaseWorker     = "worker"
	PhaseVerifier   = "verifier"
	PhaseSummarizer = "summarizer"
)

// Worker phase statuses parsed from the trailing STATUS line.
const (
	WorkerDone    = "done"
	WorkerBlocked = "blocked"
)

// workerPrompt builds the worker-phase prompt. The task body lives in
// TASK_PROMPT.md inside the work directory; feedback from the previous
// verifier round is injected verbatim.
func workerPrompt(taskFile, workDir, feedback string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are working on the task described in %s.\n", taskFile)
	fmt.Fprintf(&sb, "Work directory: %s\n\n", workDir)
	sb.WriteString("Complete the task. Make real changes in the work directory.\n")
	if feedback != "" {
		sb.WriteString("\nA verifier reviewed your previous attempt and rejected it with this feedback:\n")
		sb.WriteString(feedback)
		sb.WriteString("\nAddress every point before finishing.\n")
	}
	sb.WriteString("\nWhen finished, end your reply with exactly one of:\n")
	sb.WriteString("STATUS: done\n")
	sb.WriteString("STATUS: blocked - <reason>\n")
	return sb.String()
}

// verifierPrompt builds the verifier-phase prompt. The verifier must write
// VERDICT.json into the session folder; the engine reads it afterwards.
func verifierPrompt(taskFile, criteriaFile, workDir, sessionDir string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are verifying a completed attempt at the task described in %s.\n", taskFile)
	fmt.Fprintf(&sb, "Success criteria: %s\nWork directory: %s\n\n", criteriaFile, workDir)
	sb.WriteString("Inspect the work, run whatever tests apply, and judge it against the criteria.\n")
	fmt.Fprintf(&sb, "Write your verdict to %s/VERDICT.json with this exact schema:\n", sessionDir)
	sb.WriteString(`{"approved": bool, "feedback": string, "testing_done": string, "results": string, "criteria_met": [string], "criteria_failed": [string], "expert_comparison": string}` + "\n")
	sb.WriteString("Set approved=true only when every criterion is met.\n")
	return sb.String()
}

// summarizerPrompt builds the summarizer-phase prompt. Produces SUMMARY.md
// in the session folder; sessionLink, when non-empty, is a web URL embedded
// as a clickable link.
func summarizerPrompt(sessionDir, sessionLink string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Summarize the work done in this session as bulleted markdown in %s/SUMMARY.md.\n", sessionDir)
	sb.WriteString("Cover: what was asked, what was changed, how it was verified, and anything left open.\n")
	if sessionLink != "" {
		fmt.Fprintf(&sb, "Include this link to the session folder: %s\n", sessionLink)
	}
	return sb.String()
}

// parseWorkerStatus extracts the terminal STATUS line from worker output.
// Anything other than a well-formed done/blocked line is treated as blocked
// with reason "Status unclear".
func parseWorkerStatus(output string) (status, reason string) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "STATUS:") {
			continue
		}
		rest := strings.TrimSpace(strings.TrimPrefix(line, "STATUS:"))
		if rest == WorkerDone {
			return WorkerDone, ""
		}
		if strings.HasPrefix(rest, WorkerBlocked) {
			reason := strings.TrimSpace(strings.TrimPrefix(rest, WorkerBlocked))
			reason = strings.TrimSpace(strings.TrimPrefix(reason, "-"))
			if reason == "" {
				reason = "No reason given"
			}
			return WorkerBlocked, reason
		}
		break
	}
	return WorkerBlocked, "Status unclear"
}
