// Package syncdrive resolves the local sync-folder root and converts paths
// under it to web URLs and back. Session artifacts are written beneath the
// root so they sync to the share the chat front-end links into.
package syncdrive

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SessionsDirName is the folder under the sync root that holds per-task
// session folders.
const SessionsDirName = "Shraga Sessions"

// ErrRootNotFound is returned when no sync root can be resolved.
type ErrRootNotFound struct {
	Tried []string
}

func (e *ErrRootNotFound) Error() string {
	return fmt.Sprintf("sync root not found (tried: %s)", strings.Join(e.Tried, ", "))
}

// FindSyncRoot resolves the local sync root. It checks the environment
// variables the sync client sets, then scans the home directory for sync
// folders. businessOnly restricts the result to commercial mounts.
func FindSyncRoot(businessOnly bool) (string, error) {
	var tried []string

	envVars := []string{"OneDriveCommercial"}
	if !businessOnly {
		envVars = append(envVars, "OneDrive", "OneDriveConsumer")
	}
	for _, v := range envVars {
		tried = append(tried, "$"+v)
		if root := os.Getenv(v); root != "" {
			if info, err := os.Stat(root); err == nil && info.IsDir() {
				return root, nil
			}
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", &ErrRootNotFound{Tried: tried}
	}

	entries, err := os.ReadDir(home)
	if err != nil {
		return "", &ErrRootNotFound{Tried: append(tried, home)}
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		// Commercial mounts are named "OneDrive - <org>"; the personal
		// mount is plain "OneDrive".
		if strings.HasPrefix(name, "OneDrive - ") {
			return filepath.Join(home, name), nil
		}
		if !businessOnly && name == "OneDrive" {
			return filepath.Join(home, name), nil
		}
	}

	return "", &ErrRootNotFound{Tried: append(tried, filepath.Join(home, "OneDrive*"))}
}

// Mapper converts local paths under the sync root to web URLs and back.
type Mapper struct {
	// Root is the absolute local sync root.
	Root string
	// BaseURL is the web root the share is published under.
	BaseURL string
}

// IsFilePath reports whether a path names a file rather than a folder. A
// path is a file iff its final segment has a non-empty extension; a leading
// dot alone (.gitignore) does not count as an extension. The sync client may
// not have materialized the entry locally yet, so on-disk tests are
// unreliable and the name is all there is to go on.
func IsFilePath(p string) bool {
	base := filepath.Base(p)
	idx := strings.LastIndex(base, ".")
	return idx > 0 && idx < len(base)-1
}

// LocalToWebURL converts an absolute local path under the root to a web URL.
// Returns "" when the path is outside the root. viewInBrowser appends the
// query that opens the target in the browser instead of the local app.
func (m *Mapper) LocalToWebURL(localPath string, viewInBrowser bool) string {
	rel, err := filepath.Rel(m.Root, localPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}

	segments := strings.Split(filepath.ToSlash(rel), "/")
	escaped := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "." || seg == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(seg))
	}

	webURL := strings.TrimRight(m.BaseURL, "/")
	if len(escaped) > 0 {
		webURL += "/" + path.Join(escaped...)
	}
	if viewInBrowser {
		webURL += "?web=1"
	}
	return webURL
}

// WebToLocalPath converts a web URL under the base URL back to a local path.
// Returns "" when the URL is outside the published root.
func (m *Mapper) WebToLocalPath(webURL string) string {
	base := strings.TrimRight(m.BaseURL, "/")
	if !strings.HasPrefix(webURL, base) {
		return ""
	}

	rest := strings.TrimPrefix(webURL, base)
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return m.Root
	}

	segments := strings.Split(rest, "/")
	parts := make([]string, 0, len(segments)+1)
	parts = append(parts, m.Root)
	for _, seg := range segments {
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return ""
		}
		parts = append(parts, decoded)
	}
	return filepath.Join(parts...)
}

// SessionFolder returns the per-task session folder path under the root:
// <root>/Shraga Sessions/<safe-name>_<task-id-prefix>.
func SessionFolder(root, taskName, taskID string) string {
	return filepath.Join(root, SessionsDirName, fmt.Sprintf("%s_%s", safeName(taskName), idPrefix(taskID)))
}

// CreateSessionFolder creates the session folder and returns its path.
func CreateSessionFolder(root, taskName, taskID string) (string, error) {
	dir := SessionFolder(root, taskName, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// safeName reduces a task name to a filesystem-safe slug.
func safeName(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			sb.WriteByte('_')
		}
	}
	s := strings.Trim(sb.String(), "_")
	if s == "" {
		s = "task"
	}
	const maxLen = 50
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// idPrefix returns the first GUID segment of a task id.
func idPrefix(id string) string {
	if id == "" {
		return uuid.New().String()[:8]
	}
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
