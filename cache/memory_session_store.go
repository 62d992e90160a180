package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

type sessionEntry struct {
	mu     sync.RWMutex
	fields map[string]string
}

// MemorySessionStore implements domain.SessionStore using ttlcache. Intended
// for development and tests; production deployments use the Redis store so
// the verifier survives process restarts mid-round-trip.
type MemorySessionStore struct {
	cache *ttlcache.Cache[string, *sessionEntry]
}

// NewMemorySessionStore creates an in-memory session store whose sessions
// expire after the given inactivity window. Reads and writes both extend the
// session.
func NewMemorySessionStore(inactivityTTL time.Duration) *MemorySessionStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *sessionEntry](inactivityTTL),
	)
	go cache.Start()

	return &MemorySessionStore{cache: cache}
}

// Put implements domain.SessionStore.Put.
func (s *MemorySessionStore) Put(_ context.Context, sessionID, field, value string) error {
	item := s.cache.Get(sessionID)
	if item == nil {
		entry := &sessionEntry{fields: map[string]string{field: value}}
		s.cache.Set(sessionID, entry, ttlcache.DefaultTTL)
		return nil
	}
	entry := item.Value()
	entry.mu.Lock()
	entry.fields[field] = value
	entry.mu.Unlock()
	return nil
}

// Get implements domain.SessionStore.Get.
func (s *MemorySessionStore) Get(_ context.Context, sessionID, field string) (string, bool, error) {
	item := s.cache.Get(sessionID)
	if item == nil {
		return "", false, nil
	}
	entry := item.Value()
	entry.mu.RLock()
	value, ok := entry.fields[field]
	entry.mu.RUnlock()
	return value, ok, nil
}

// Delete implements domain.SessionStore.Delete.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID, field string) error {
	item := s.cache.Get(sessionID)
	if item == nil {
		return nil
	}
	entry := item.Value()
	entry.mu.Lock()
	delete(entry.fields, field)
	entry.mu.Unlock()
	return nil
}

// Stop halts the background expiration loop.
func (s *MemorySessionStore) Stop() {
	s.cache.Stop()
}
