package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// versionFile sits at the repository root and holds the deployed version.
const versionFile = "VERSION"

// ErrUpdateApplied is returned by Run when a self-update was pulled. The
// process exits so the external supervisor restarts it on the new version.
type ErrUpdateApplied struct {
	From string
	To   string
}

func (e *ErrUpdateApplied) Error() string {
	return "self-update applied: " + e.From + " -> " + e.To
}

// checkForUpdate compares the local VERSION with the remote branch head and
// pulls when they differ. Returns the update error to propagate, or nil when
// no update is needed. Only called while idle.
func (w *Worker) checkForUpdate(ctx context.Context) error {
	repoDir := w.cfg.WorkingDir
	if repoDir == "" {
		return nil
	}

	local, err := os.ReadFile(filepath.Join(repoDir, versionFile))
	if err != nil {
		w.logger.Debug("no local VERSION file; skipping update check", zap.Error(err))
		return nil
	}
	localVersion := strings.TrimSpace(string(local))

	if _, err := gitRun(ctx, repoDir, "fetch", "origin", w.cfg.UpdateBranch); err != nil {
		w.logger.Warn("update fetch failed", zap.Error(err))
		return nil
	}
	remote, err := gitRun(ctx, repoDir, "show", "origin/"+w.cfg.UpdateBranch+":"+versionFile)
	if err != nil {
		w.logger.Warn("cannot read remote VERSION", zap.Error(err))
		return nil
	}
	remoteVersion := strings.TrimSpace(remote)

	if remoteVersion == "" || remoteVersion == localVersion {
		return nil
	}

	w.logger.Info("new version available, pulling",
		zap.String("local", localVersion), zap.String("remote", remoteVersion))
	if _, err := gitRun(ctx, repoDir, "pull", "origin", w.cfg.UpdateBranch); err != nil {
		w.logger.Error("update pull failed", zap.Error(err))
		return nil
	}
	return &ErrUpdateApplied{From: localVersion, To: remoteVersion}
}
