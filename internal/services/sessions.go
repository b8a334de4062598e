package services

import (
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rag-server/internal/models"
)

// Session is one chat conversation with its bounded history.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	History      *models.ChatHistory
}

// SessionSummary describes one live session for listing purposes.
type SessionSummary struct {
	ID           string    `json:"session_id"`
	Name         string    `json:"name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.LastActivity = time.Now()
}

// SessionManager owns chat sessions and evicts idle ones lazily: expiry is
// checked on access rather than by a background sweeper, so an expired
// session disappears the moment anyone looks for it.
type SessionManager struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	historyLimit int
	idleTimeout  time.Duration
	logger       *log.Logger
	now          func() time.Time // swappable for tests
}

// NewSessionManager builds a manager evicting sessions idle longer than
// idleTimeout, with per-session history capped at historyLimit messages.
func NewSessionManager(historyLimit int, idleTimeout time.Duration, logger *log.Logger) *SessionManager {
	if logger == nil {
		logger = log.New(os.Stdout, "[SESSIONS] ", log.LstdFlags)
	}
	return &SessionManager{
		sessions:     make(map[string]*Session),
		historyLimit: historyLimit,
		idleTimeout:  idleTimeout,
		logger:       logger,
		now:          time.Now,
	}
}

// Create registers a new session with a fresh id. The name is an optional
// human-readable label; it is never a key, so two sessions may share one.
func (m *SessionManager) Create(name string) *Session {
	now := m.now()
	session := &Session{
		ID:           uuid.NewString(),
		Name:         name,
		CreatedAt:    now,
		LastActivity: now,
		History:      models.NewChatHistory(m.historyLimit),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.logger.Printf("[SESSIONS] Created session %s", session.ID)
	return session
}

// Get returns the session and refreshes its idle clock. A session idle
// past the timeout is evicted here and reported as absent.
func (m *SessionManager) Get(id string) (*Session, bool) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	if now.Sub(session.LastActivity) > m.idleTimeout {
		delete(m.sessions, id)
		m.logger.Printf("[SESSIONS] Evicted idle session %s", id)
		return nil, false
	}
	session.LastActivity = now
	return session, true
}

// GetOrCreate returns the named session, or a fresh one when id is empty
// or the session has expired.
func (m *SessionManager) GetOrCreate(id string) *Session {
	if id != "" {
		if session, ok := m.Get(id); ok {
			return session
		}
	}
	return m.Create("")
}

// ClearHistory empties the session's conversation without removing the
// session itself. Returns false when the session is absent or expired.
func (m *SessionManager) ClearHistory(id string) bool {
	session, ok := m.Get(id)
	if !ok {
		return false
	}
	session.History.Clear()
	m.logger.Printf("[SESSIONS] Cleared history for session %s", id)
	return true
}

// Delete removes a session explicitly.
func (m *SessionManager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// List summarizes live sessions, oldest first. Expired sessions are
// evicted on the way through, so callers needing bounded memory can run a
// periodic List as their sweep.
func (m *SessionManager) List() []SessionSummary {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	summaries := make([]SessionSummary, 0, len(m.sessions))
	for id, session := range m.sessions {
		if now.Sub(session.LastActivity) > m.idleTimeout {
			delete(m.sessions, id)
			m.logger.Printf("[SESSIONS] Evicted idle session %s", id)
			continue
		}
		summaries = append(summaries, SessionSummary{
			ID:           session.ID,
			Name:         session.Name,
			CreatedAt:    session.CreatedAt,
			LastActivity: session.LastActivity,
			MessageCount: session.History.Len(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.Before(summaries[j].CreatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Len counts live sessions, evicting any that expired since last touch.
func (m *SessionManager) Len() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, session := range m.sessions {
		if now.Sub(session.LastActivity) > m.idleTimeout {
			delete(m.sessions, id)
			m.logger.Printf("[SESSIONS] Evicted idle session %s", id)
		}
	}
	return len(m.sessions)
}
