package worker

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const gitTimeout = 60 * time.Second

// gitRun executes one git command in dir and returns trimmed stdout.
func gitRun(ctx context.Context, dir string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// gitHistory returns the recent commit log of the work directory, formatted
// for GIT_HISTORY.md. Non-repos yield an explanatory stub instead of an error.
func gitHistory(ctx context.Context, workDir string) string {
	log, err := gitRun(ctx, workDir, "log", "--oneline", "--decorate", "-n", "30")
	if err != nil {
		return "No git history available: " + err.Error() + "\n"
	}
	if log == "" {
		return "Repository has no commits yet.\n"
	}
	return log + "\n"
}

// commitWork stages and commits everything in the work directory. Nothing to
// commit is not an error.
func commitWork(ctx context.Context, workDir, message string) error {
	if _, err := gitRun(ctx, workDir, "add", "-A"); err != nil {
		return err
	}
	status, err := gitRun(ctx, workDir, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return nil
	}
	_, err = gitRun(ctx, workDir, "commit", "-m", message)
	return err
}
