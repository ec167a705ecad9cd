// Package engine implements the autonomous-agent loop: iterated
// worker/verifier phases bounded at a fixed round count, followed by a
// summarizer phase once the verifier approves. Each phase is one streaming
// invocation of the LLM CLI.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shraga-ai/shraga/internal/common/logger"
	"github.com/shraga-ai/shraga/pkg/llmcli"
)

// Terminal statuses of a loop run.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
	StatusBlocked   = "blocked"
)

// ProgressEvent is one unit of streamed progress, consumed by the worker's
// outer loop and written to the activity feed.
type ProgressEvent struct {
	TaskID  string
	Phase   string
	Title   string
	Content string
}

// PhaseRecord captures one phase invocation for the session summary.
type PhaseRecord struct {
	Name   string            `json:"name"`
	Status string            `json:"status"` // ok | failed
	Error  string            `json:"error,omitempty"`
	Stats  llmcli.PhaseStats `json:"stats"`
}

// Result is the outcome of a full loop run.
type Result struct {
	TerminalStatus string
	Reason         string
	Iterations     int
	Phases         []PhaseRecord
	Totals         llmcli.PhaseStats
	FinalText      string
	Transcript     string
}

// Input describes the task handed to the loop. The prompt and criteria files
// are written into the work/session folders by the caller before Run.
type Input struct {
	TaskID       string
	TaskName     string
	WorkDir      string
	SessionDir   string
	SessionLink  string
	TaskFile     string
	CriteriaFile string
}

// Engine drives the worker/verifier/summarizer loop.
type Engine struct {
	runner        *llmcli.Runner
	maxIterations int
	phaseTimeout  time.Duration
	logger        *logger.Logger
}

// New creates an engine. maxIterations <= 0 defaults to 10.
func New(runner *llmcli.Runner, maxIterations int, phaseTimeout time.Duration, log *logger.Logger) *Engine {
	if maxIterations <= 0 {
		maxIterations = 10
	}
	if phaseTimeout <= 0 {
		phaseTimeout = time.Hour
	}
	return &Engine{
		runner:        runner,
		maxIterations: maxIterations,
		phaseTimeout:  phaseTimeout,
		logger:        log.WithFields(zap.String("component", "agent-engine")),
	}
}

// Run executes the loop for one task. isCanceled is polled before every
// iteration and again at verification entry; progress, when non-nil,
// receives streamed events and is not closed by Run.
func (e *Engine) Run(ctx context.Context, in Input, isCanceled func(context.Context) bool, progress chan<- ProgressEvent) *Result {
	res := &Result{}
	log := e.logger.WithTaskID(in.TaskID)

	feedback := ""
	for iter := 1; iter <= e.maxIterations; iter++ {
		res.Iterations = iter

		if isCanceled != nil && isCanceled(ctx) {
			log.Info("task canceled before iteration", zap.Int("iteration", iter))
			res.TerminalStatus = StatusCanceled
			res.Reason = "Canceled by user"
			return res
		}

		log.Info("starting worker phase", zap.Int("iteration", iter))
		workerName := fmt.Sprintf("%s_%d", PhaseWorker, iter)
		workerOut, rec := e.runPhase(ctx, workerName, llmcli.StreamRequest{
			Prompt:  workerPrompt(in.TaskFile, in.WorkDir, feedback),
			WorkDir: in.WorkDir,
			Timeout: e.phaseTimeout,
		}, in, progress)
		res.record(rec)
		if rec.Status != "ok" {
			res.TerminalStatus = StatusFailed
			res.Reason = fmt.Sprintf("Worker phase failed: %s", rec.Error)
			return res
		}
		res.appendTranscript(workerName, workerOut)
		res.FinalText = workerOut.Text

		status, reason := parseWorkerStatus(workerOut.Text)
		if status == WorkerBlocked {
			log.Warn("worker reported blocked", zap.String("reason", reason))
			res.TerminalStatus = StatusBlocked
			res.Reason = reason
			return res
		}

		if isCanceled != nil && isCanceled(ctx) {
			res.TerminalStatus = StatusCanceled
			res.Reason = "Canceled by user"
			return res
		}

		// A verdict from a previous round must not count for this one.
		_ = os.Remove(filepath.Join(in.SessionDir, VerdictFile))

		log.Info("starting verifier phase", zap.Int("iteration", iter))
		verifierName := fmt.Sprintf("%s_%d", PhaseVerifier, iter)
		verifierOut, rec := e.runPhase(ctx, verifierName, llmcli.StreamRequest{
			Prompt:  verifierPrompt(in.TaskFile, in.CriteriaFile, in.WorkDir, in.SessionDir),
			WorkDir: in.WorkDir,
			Timeout: e.phaseTimeout,
		}, in, progress)
		res.record(rec)
		if rec.Status != "ok" {
			res.TerminalStatus = StatusFailed
			res.Reason = fmt.Sprintf("Verifier phase failed: %s", rec.Error)
			return res
		}
		res.appendTranscript(verifierName, verifierOut)

		verdict := readVerdict(in.SessionDir)
		if verdict.Approved {
			log.Info("verifier approved", zap.Int("iteration", iter))
			sumOut, rec := e.runPhase(ctx, PhaseSummarizer, llmcli.StreamRequest{
				Prompt:  summarizerPrompt(in.SessionDir, in.SessionLink),
				WorkDir: in.WorkDir,
				Timeout: e.phaseTimeout,
			}, in, progress)
			res.record(rec)
			if rec.Status == "ok" {
				res.appendTranscript(PhaseSummarizer, sumOut)
				if sumOut.Text != "" {
					res.FinalText = sumOut.Text
				}
			}
			res.TerminalStatus = StatusCompleted
			return res
		}

		log.Info("verifier rejected; feeding feedback into next iteration",
			zap.Int("iteration", iter),
			zap.String("feedback", verdict.Feedback))
		feedback = verdict.Feedback
	}

	res.TerminalStatus = StatusFailed
	res.Reason = "Max iterations reached"
	return res
}

// runPhase executes one streaming CLI invocation, forwarding stream events
// as progress and normalising the result into a PhaseRecord.
func (e *Engine) runPhase(ctx context.Context, name string, req llmcli.StreamRequest, in Input, progress chan<- ProgressEvent) (*llmcli.StreamResult, PhaseRecord) {
	rec := PhaseRecord{Name: name}

	req.OnEvent = func(ev *llmcli.Event) {
		if progress == nil || ev.Type != llmcli.EventTypeAssistant || ev.Message == nil {
			return
		}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "tool_use":
				progress <- ProgressEvent{
					TaskID: in.TaskID,
					Phase:  name,
					Title:  fmt.Sprintf("Using tool: %s", block.Name),
				}
			case "text":
				if strings.TrimSpace(block.Text) != "" {
					progress <- ProgressEvent{
						TaskID:  in.TaskID,
						Phase:   name,
						Content: block.Text,
					}
				}
			}
		}
	}

	out, err := e.runner.RunStream(ctx, req)
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
		return nil, rec
	}

	rec.Status = "ok"
	rec.Stats = llmcli.ExtractPhaseStats(out.Result)
	rec.Stats.Phase = name
	return out, rec
}

func (r *Result) record(rec PhaseRecord) {
	r.Phases = append(r.Phases, rec)
	r.Totals = llmcli.MergePhaseStats(r.Totals, rec.Stats)
}

func (r *Result) appendTranscript(phase string, out *llmcli.StreamResult) {
	if out == nil || out.Transcript == "" {
		return
	}
	if r.Transcript != "" {
		r.Transcript += "\n"
	}
	r.Transcript += fmt.Sprintf("## %s\n%s\n", phase, out.Transcript)
}
