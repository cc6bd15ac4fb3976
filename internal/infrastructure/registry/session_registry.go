package registry

import (
	"sync"
	"time"

	"streamgrid/internal/core/domain"
	"streamgrid/internal/core/ports"
)

type SessionRegistry struct {
	sessions map[domain.SessionID]*domain.Session
	mu       sync.RWMutex
}

func NewSessionRegistry() ports.SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[domain.SessionID]*domain.Session),
	}
}

func (r *SessionRegistry) Register(id domain.SessionID) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[id]; ok {
		copy := *existing
		return &copy
	}

	session := &domain.Session{
		ID:          id,
		Role:        domain.RoleSubscriber,
		ConnectedAt: time.Now(),
	}
	r.sessions[id] = session

	copy := *session
	return &copy
}

func (r *SessionRegistry) SetRole(id domain.SessionID, role domain.Role) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return false
	}
	// Ingest promotion happens at most once.
	if session.Role == domain.RoleIngest && role == domain.RoleIngest {
		return false
	}
	session.Role = role
	return true
}

func (r *SessionRegistry) Get(id domain.SessionID) (*domain.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	copy := *session
	return &copy, true
}

func (r *SessionRegistry) Remove(id domain.SessionID) (*domain.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	return session, true
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
