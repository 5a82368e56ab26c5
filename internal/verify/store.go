package verify

import (
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MemoryStore is the in-process SessionStore implementation. Sessions are
// never deleted; terminal sessions are retained for audit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.VerificationSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.VerificationSession),
	}
}

// Get returns the session for id, or false when absent.
func (s *MemoryStore) Get(id string) (*domain.VerificationSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Put inserts or replaces a session.
func (s *MemoryStore) Put(sess *domain.VerificationSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// List returns all sessions in unspecified order.
func (s *MemoryStore) List() []*domain.VerificationSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.VerificationSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
