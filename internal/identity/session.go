package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultSessionTimeout is how long a session may stay idle.
const DefaultSessionTimeout = 30 * time.Minute

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive  SessionStatus = "active"
	StatusClosed  SessionStatus = "closed"
	StatusTimeout SessionStatus = "timeout"
)

// Session tracks one agent working session.
type Session struct {
	SessionID  string            `json:"session_id"`
	AgentID    string            `json:"agent_id"`
	StartTime  time.Time         `json:"start_time"`
	LastActive time.Time         `json:"last_active"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Status     SessionStatus     `json:"status"`
}

// SessionManager keeps at most one active session per agent.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byAgent  map[string]string
	timeout  time.Duration
	now      func() time.Time
}

// NewSessionManager creates a manager. A non-positive timeout uses the default.
func NewSessionManager(timeout time.Duration) *SessionManager {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		byAgent:  make(map[string]string),
		timeout:  timeout,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Timeout returns the idle timeout.
func (m *SessionManager) Timeout() time.Duration {
	return m.timeout
}

// Start opens a new session for the agent, force-closing any active one.
func (m *SessionManager) Start(agentID string, metadata map[string]string) (Session, error) {
	if agentID == "" {
		return Session{}, fmt.Errorf("identity: agent id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.byAgent[agentID]; ok {
		m.closeLocked(prev, StatusClosed)
	}

	now := m.now().UTC()
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}
	s := &Session{
		SessionID:  generateSessionID(),
		AgentID:    agentID,
		StartTime:  now,
		LastActive: now,
		Metadata:   meta,
		Status:     StatusActive,
	}
	m.sessions[s.SessionID] = s
	m.byAgent[agentID] = s.SessionID
	return *s, nil
}

// Active returns the agent's active session and refreshes its last-active
// time. A session idle past the timeout transitions to timeout and is not
// returned.
func (m *SessionManager) Active(agentID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byAgent[agentID]
	if !ok {
		return Session{}, false
	}
	s := m.sessions[id]
	now := m.now().UTC()
	if now.Sub(s.LastActive) > m.timeout {
		m.closeLocked(id, StatusTimeout)
		return Session{}, false
	}
	s.LastActive = now
	return *s, true
}

// Close marks the session closed. Closing an unknown or already closed
// session is a no-op.
func (m *SessionManager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked(sessionID, StatusClosed)
}

// Get returns a session by id in any state.
func (m *SessionManager) Get(sessionID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ActiveSessions returns every active session ordered by start time.
func (m *SessionManager) ActiveSessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.byAgent))
	for _, id := range m.byAgent {
		out = append(out, *m.sessions[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// Sweep times out every idle active session and drops ended sessions older
// than the timeout. Returns the number of sessions timed out.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	timedOut := 0
	for id, s := range m.sessions {
		idle := now.Sub(s.LastActive) > m.timeout
		switch {
		case s.Status == StatusActive && idle:
			m.closeLocked(id, StatusTimeout)
			timedOut++
		case s.Status != StatusActive && idle:
			delete(m.sessions, id)
		}
	}
	return timedOut
}

func (m *SessionManager) closeLocked(sessionID string, status SessionStatus) {
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return
	}
	s.Status = status
	if m.byAgent[s.AgentID] == sessionID {
		delete(m.byAgent, s.AgentID)
	}
}

func generateSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("sess-%x", time.Now().UnixNano())
	}
	return "sess-" + hex.EncodeToString(b)
}
