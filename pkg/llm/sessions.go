package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var filenameSafeRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)

// SessionStore keeps one History per session ID, optionally persisted to a
// storage directory as history_<id>.json files.
type SessionStore struct {
	histories map[string]*History
	storage   string
	mu        sync.RWMutex
}

// NewSessionStore initializes the store. An empty storage path disables
// persistence.
func NewSessionStore(storage string) *SessionStore {
	if storage != "" {
		os.MkdirAll(storage, 0755)
	}
	return &SessionStore{
		histories: make(map[string]*History),
		storage:   storage,
	}
}

// GetHistory returns the history for sessionID, loading it from disk on
// first access.
func (s *SessionStore) GetHistory(sessionID string) (*History, error) {
	s.mu.RLock()
	h, ok := s.histories[sessionID]
	s.mu.RUnlock()
	if ok {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok = s.histories[sessionID]; ok {
		return h, nil
	}

	h = NewHistory()
	if s.storage != "" {
		if err := h.Load(s.path(sessionID)); err != nil {
			return nil, err
		}
	}
	s.histories[sessionID] = h
	return h, nil
}

// SaveSession flushes one session's history to disk. Unknown sessions and
// disabled persistence are no-ops.
func (s *SessionStore) SaveSession(sessionID string) error {
	s.mu.RLock()
	h, ok := s.histories[sessionID]
	s.mu.RUnlock()
	if !ok || s.storage == "" {
		return nil
	}
	return h.Save(s.path(sessionID))
}

func (s *SessionStore) path(sessionID string) string {
	safeID := filenameSafeRegex.ReplaceAllString(sessionID, "_")
	return filepath.Join(s.storage, fmt.Sprintf("history_%s.json", safeID))
}
