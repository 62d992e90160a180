package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore implements domain.SessionStore backed by Redis. Each session
// is a hash keyed by the opaque cookie-carried session id; the key's TTL is
// the inactivity window and is refreshed on every access so a session stays
// alive for the whole provider round trip.
type SessionStore struct {
	client        *redis.Client
	prefix        string
	inactivityTTL time.Duration
}

// NewSessionStore creates a new SessionStore. prefix namespaces the keys so
// unrelated deployments can share an instance.
func NewSessionStore(client *redis.Client, prefix string, inactivityTTL time.Duration) *SessionStore {
	return &SessionStore{
		client:        client,
		prefix:        prefix,
		inactivityTTL: inactivityTTL,
	}
}

func (s *SessionStore) redisKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, sessionID)
}

// Put stores a field in the session hash. HSet and Expire are both confirmed
// by Redis before Put returns, which is what makes it safe to issue the
// authorization redirect afterwards.
func (s *SessionStore) Put(ctx context.Context, sessionID, field, value string) error {
	key := s.redisKey(sessionID)
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("writing session field: %w", err)
	}
	if err := s.client.Expire(ctx, key, s.inactivityTTL).Err(); err != nil {
		return fmt.Errorf("setting session expiry: %w", err)
	}
	return nil
}

// Get retrieves a field, refreshing the session's inactivity window.
func (s *SessionStore) Get(ctx context.Context, sessionID, field string) (string, bool, error) {
	key := s.redisKey(sessionID)
	value, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading session field: %w", err)
	}
	// Best effort refresh; a failed Expire does not invalidate the read.
	s.client.Expire(ctx, key, s.inactivityTTL)
	return value, true, nil
}

// Delete removes a field from the session hash.
func (s *SessionStore) Delete(ctx context.Context, sessionID, field string) error {
	if err := s.client.HDel(ctx, s.redisKey(sessionID), field).Err(); err != nil {
		return fmt.Errorf("deleting session field: %w", err)
	}
	return nil
}
