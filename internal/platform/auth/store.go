package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound reports a missing or expired session.
var ErrSessionNotFound = errors.New("session not found")

// Session binds a coder's login to the upstream bearer token obtained for
// them. The session ID is embedded in the JWT we hand the browser; the
// upstream token never leaves this process.
type Session struct {
	ID            string
	Username      string
	UpstreamToken string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the session has passed its TTL.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// MemoryStore is an in-memory session store with per-session TTL. Sessions
// are small and bounded by the number of concurrently logged-in coders, so
// no external store is needed; a restart simply forces re-login.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewMemoryStore creates a store whose sessions live for ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
	}
}

// Create registers a new session for a coder and returns it.
func (s *MemoryStore) Create(username, upstreamToken string) *Session {
	now := time.Now()
	sess := &Session{
		ID:            uuid.NewString(),
		Username:      username,
		UpstreamToken: upstreamToken,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session with the given ID. Expired sessions are removed
// on access and reported as not found.
func (s *MemoryStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.Expired() {
		s.Delete(id)
		return nil, ErrSessionNotFound
	}
	copy := *sess
	return &copy, nil
}

// Delete removes a session. Deleting an unknown ID is a no-op.
func (s *MemoryStore) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// DeleteUser removes every session belonging to a coder. Used on logout and
// when the upstream service rejects their token.
func (s *MemoryStore) DeleteUser(username string) {
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Username == username {
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
}

// Sweep removes all expired sessions and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.Expired() {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}
