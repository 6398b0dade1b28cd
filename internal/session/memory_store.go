package session

import (
	"context"
	"sync"

	"instabridge/internal/platform"
)

// MemoryStore keeps registry entries in-memory. It is safe for concurrent use
// and is the default for single-instance deployments; entries vanish on
// process exit.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]platform.Client
}

// NewMemoryStore constructs an in-memory store implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clients: make(map[string]platform.Client)}
}

// Save records the client handle for the provided token.
func (s *MemoryStore) Save(_ context.Context, token string, client platform.Client) error {
	s.mu.Lock()
	s.clients[token] = client
	s.mu.Unlock()
	return nil
}

// Get retrieves the client handle for the provided token.
func (s *MemoryStore) Get(_ context.Context, token string) (platform.Client, bool, error) {
	s.mu.RLock()
	client, ok := s.clients[token]
	s.mu.RUnlock()
	return client, ok, nil
}

// Delete removes the token from the store.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.clients, token)
	s.mu.Unlock()
	return nil
}

// Count reports the number of live entries.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	count := len(s.clients)
	s.mu.RUnlock()
	return count, nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
