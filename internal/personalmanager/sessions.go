package personalmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// SessionStore maps external conversation ids to LLM session ids and persists
// the mapping across restarts. Writes use the write-tempfile-rename pattern so
// a crash mid-write never corrupts the file.
type SessionStore struct {
	mu       sync.Mutex
	path     string
	sessions map[string]string
}

// DefaultSessionsPath returns ~/.shraga/sessions_<sanitized-email>.json.
func DefaultSessionsPath(userEmail string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot resolve home directory: %w", err)
	}
	return filepath.Join(home, ".shraga", "sessions_"+sanitizeEmail(userEmail)+".json"), nil
}

// OpenSessionStore loads the session file, creating an empty store when the
// file does not exist yet.
func OpenSessionStore(path string) (*SessionStore, error) {
	s := &SessionStore{path: path, sessions: map[string]string{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read sessions file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.sessions); err != nil {
		// A corrupt file loses the stored sessions but must not brick the
		// daemon; conversations restart fresh.
		s.sessions = map[string]string{}
	}
	return s, nil
}

// Get returns the stored session id for a conversation, or "".
func (s *SessionStore) Get(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[conversationID]
}

// Set records a session id and persists the mapping atomically.
func (s *SessionStore) Set(conversationID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[conversationID] = sessionID
	return s.persistLocked()
}

// Delete drops a stored session id (after a failed resume) and persists.
func (s *SessionStore) Delete(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, conversationID)
	return s.persistLocked()
}

// Len returns the number of stored sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create sessions dir: %w", err)
	}

	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("cannot write sessions tempfile: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cannot replace sessions file: %w", err)
	}
	return nil
}

// sanitizeEmail reduces an email to a filename-safe token.
func sanitizeEmail(email string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(email) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
