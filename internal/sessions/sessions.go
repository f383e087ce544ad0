// Package sessions is the session-ID-to-node directory consulted by the
// router once a session is running.
package sessions

import (
	"sync"

	"pkt.systems/gridd/internal/grid"
)

// Map is the session directory contract the distributor writes into.
type Map interface {
	Add(session grid.Session) error
	Get(id grid.SessionID) (grid.Session, bool)
	Remove(id grid.SessionID)
}

// Memory is the in-process directory used by the single-process grid.
type Memory struct {
	mu       sync.RWMutex
	sessions map[grid.SessionID]grid.Session
}

// NewMemory constructs an empty directory.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[grid.SessionID]grid.Session)}
}

// Add records a running session.
func (m *Memory) Add(session grid.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

// Get looks up a session by id.
func (m *Memory) Get(id grid.SessionID) (grid.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	return session, ok
}

// Remove drops a session from the directory.
func (m *Memory) Remove(id grid.SessionID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len reports how many sessions are registered.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
