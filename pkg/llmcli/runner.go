package llmcli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// nestedSessionVar is set by the CLI in its own subprocesses. It must be
// stripped from the child environment or the CLI refuses to start a session.
const nestedSessionVar = "CLAUDECODE"

// scanBufferSize allows for large single-line JSON events (up to 10MB).
const scanBufferSize = 10 * 1024 * 1024

// Runner invokes the LLM CLI as a subprocess.
type Runner struct {
	// Binary is the CLI executable name or path.
	Binary string
	// Model is passed as --model when non-empty.
	Model string
}

// PrintRequest describes a single-shot print-mode invocation.
type PrintRequest struct {
	Prompt           string
	SystemPromptFile string
	ResumeSessionID  string
	WorkDir          string
	Timeout          time.Duration
}

// PrintResult is the parsed response of a print-mode invocation.
type PrintResult struct {
	Text      string
	SessionID string
	IsError   bool
}

// StreamRequest describes a streaming-mode invocation (one agent phase).
type StreamRequest struct {
	Prompt           string
	SystemPromptFile string
	WorkDir          string
	Timeout          time.Duration
	// OnEvent, when set, receives every parsed event as it arrives.
	OnEvent func(*Event)
}

// StreamResult is the outcome of a streaming-mode invocation.
type StreamResult struct {
	// Result is the terminal result event, never nil on success.
	Result *Event
	// Text is the concatenation of all assistant text blocks.
	Text string
	// Transcript is the raw captured stdout, one JSON line per event.
	Transcript string
}

// RunPrint executes the CLI in print mode: a blocking single-shot call that
// returns one JSON blob. Used by the managers for conversational replies.
func (r *Runner) RunPrint(ctx context.Context, req PrintRequest) (*PrintResult, error) {
	if req.Timeout <= 0 {
		req.Timeout = 120 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{"--print", "--output-format", "json", "--dangerously-skip-permissions"}
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", req.ResumeSessionID)
	}
	if req.SystemPromptFile != "" {
		args = append(args, "--system-prompt-file", req.SystemPromptFile)
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = childEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("llm cli timed out after %s", req.Timeout)
		}
		return nil, fmt.Errorf("llm cli exited: %w (stderr: %s)", err, firstLine(stderr.String()))
	}

	var ev Event
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &ev); err != nil {
		return nil, fmt.Errorf("unparseable llm cli output: %w", err)
	}

	return &PrintResult{
		Text:      ev.ResultText(),
		SessionID: ev.SessionID,
		IsError:   ev.IsError,
	}, nil
}

// RunStream executes the CLI in streaming mode, reading newline-delimited
// events until the result event arrives or the process exits. Timeouts are
// enforced by killing the process.
func (r *Runner) RunStream(ctx context.Context, req StreamRequest) (*StreamResult, error) {
	if req.Timeout <= 0 {
		req.Timeout = time.Hour
	}
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	args := []string{
		"--output-format", "stream-json",
		"--verbose", "--include-partial-messages",
		"--dangerously-skip-permissions",
	}
	if req.SystemPromptFile != "" {
		args = append(args, "--system-prompt-file", req.SystemPromptFile)
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = req.WorkDir
	cmd.Env = childEnv()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start llm cli: %w", err)
	}

	var (
		lines      []string
		textParts  []string
		lastResult *Event
	)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		lines = append(lines, string(line))

		ev, ok := ParseEvent(line)
		if !ok {
			// Per-line parse failures are non-fatal; skip the line.
			continue
		}
		if req.OnEvent != nil {
			req.OnEvent(ev)
		}
		switch ev.Type {
		case EventTypeAssistant:
			if ev.Message != nil {
				for _, block := range ev.Message.Content {
					if block.Type == "text" && block.Text != "" {
						textParts = append(textParts, block.Text)
					}
				}
			}
		case EventTypeResult:
			lastResult = ev
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("llm cli phase timed out after %s", req.Timeout)
	}

	// Fallback: the result event is normally the last line, but if the
	// stream ended oddly scan the captured lines backwards for one.
	if lastResult == nil {
		for i := len(lines) - 1; i >= 0; i-- {
			if ev, ok := ParseEvent([]byte(lines[i])); ok && ev.Type == EventTypeResult {
				lastResult = ev
				break
			}
		}
	}

	if lastResult == nil {
		if waitErr != nil {
			return nil, fmt.Errorf("llm cli exited without result: %w (stderr: %s)", waitErr, firstLine(stderr.String()))
		}
		return nil, fmt.Errorf("llm cli produced no result event")
	}

	return &StreamResult{
		Result:     lastResult,
		Text:       strings.Join(textParts, ""),
		Transcript: strings.Join(lines, "\n"),
	}, nil
}

// childEnv returns the inherited environment with the nested-session
// variable removed.
func childEnv() []string {
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, nestedSessionVar+"=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
