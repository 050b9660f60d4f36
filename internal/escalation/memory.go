package escalation

import (
	"context"
	"fmt"
	"sync"
)

// InMemorySessions is the process-local session store.
type InMemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewInMemorySessions() *InMemorySessions {
	return &InMemorySessions{sessions: make(map[string]Session)}
}

func (s *InMemorySessions) Replace(ctx context.Context, sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
	return nil
}

func (s *InMemorySessions) Session(ctx context.Context, userID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return Session{}, fmt.Errorf("%w: no session for user %q", ErrNotFound, userID)
	}
	return sess, nil
}

func (s *InMemorySessions) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID]; !ok {
		return fmt.Errorf("%w: no session for user %q", ErrNotFound, userID)
	}
	delete(s.sessions, userID)
	return nil
}

// InMemoryCredentials keeps credential hashes in memory.
type InMemoryCredentials struct {
	mu     sync.RWMutex
	hashes map[string]string
}

func NewInMemoryCredentials() *InMemoryCredentials {
	return &InMemoryCredentials{hashes: make(map[string]string)}
}

func (s *InMemoryCredentials) CredentialHash(ctx context.Context, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hash, ok := s.hashes[userID]
	if !ok {
		return "", fmt.Errorf("%w: no credential for user %q", ErrNotFound, userID)
	}
	return hash, nil
}

func (s *InMemoryCredentials) SetCredentialHash(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[userID] = hash
	return nil
}
