// Package storage provides data storage implementations for metabeak.
package storage

import (
	"context"
	"sync"
)

// InMemoryKeyStore provides thread-safe in-memory storage for API keys.
// Useful for tests and for local/--api-only runs that don't need a real
// Postgres-backed credential store.
type InMemoryKeyStore struct {
	keys        map[string]*APIKey
	keysByID    map[string]*APIKey
	keysByOwner map[string][]*APIKey
	mutex       sync.RWMutex
}

// NewInMemoryKeyStore creates a new thread-safe in-memory key store.
func NewInMemoryKeyStore() *InMemoryKeyStore {
	return &InMemoryKeyStore{
		keys:        make(map[string]*APIKey),
		keysByID:    make(map[string]*APIKey),
		keysByOwner: make(map[string][]*APIKey),
	}
}

// FindByKey retrieves an API key by its key value.
func (s *InMemoryKeyStore) FindByKey(_ context.Context, key string) (*APIKey, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	apiKey, exists := s.keys[key]
	if !exists {
		return nil, false
	}

	keyCopy := *apiKey

	return &keyCopy, true
}

// Add stores a new API key.
func (s *InMemoryKeyStore) Add(_ context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.keysByID[apiKey.ID]; exists {
		return ErrKeyAlreadyExists
	}

	if _, exists := s.keys[apiKey.Key]; exists {
		return ErrKeyAlreadyExists
	}

	keyCopy := *apiKey

	s.keys[keyCopy.Key] = &keyCopy
	s.keysByID[keyCopy.ID] = &keyCopy
	s.keysByOwner[keyCopy.OwnerID] = append(s.keysByOwner[keyCopy.OwnerID], &keyCopy)

	return nil
}

// Delete soft-deletes an API key by setting active=false.
// This matches PostgreSQL behavior for consistency.
func (s *InMemoryKeyStore) Delete(_ context.Context, keyID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	existingKey, exists := s.keysByID[keyID]
	if !exists {
		return ErrKeyNotFound
	}

	existingKey.Active = false

	return nil
}

// ListByOwner returns all active API keys for a specific owner.
func (s *InMemoryKeyStore) ListByOwner(_ context.Context, ownerID string) ([]*APIKey, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys, exists := s.keysByOwner[ownerID]
	if !exists {
		return []*APIKey{}, nil
	}

	result := make([]*APIKey, 0, len(keys))
	for _, key := range keys {
		if !key.Active {
			continue
		}

		keyCopy := *key
		result = append(result, &keyCopy)
	}

	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *InMemoryKeyStore) HealthCheck(_ context.Context) error {
	return nil
}

var _ APIKeyStore = (*InMemoryKeyStore)(nil)
