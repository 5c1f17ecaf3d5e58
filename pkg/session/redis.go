package session

import (
	"context"
	"fmt"
	"time"

	"github.com/instantcocoa/evalbench/pkg/cache"
)

// RedisStore keeps session values as JSON in Redis so several server
// replicas share them. Keys are "<namespace>:<sessionID>" under the client's
// key prefix.
type RedisStore[T any] struct {
	client    *cache.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStore creates a Redis-backed store. A non-positive ttl stores keys
// without expiry.
func NewRedisStore[T any](client *cache.Client, namespace string, ttl time.Duration) *RedisStore[T] {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisStore[T]{
		client:    client,
		namespace: namespace,
		ttl:       ttl,
	}
}

func (s *RedisStore[T]) key(sessionID string) string {
	return s.namespace + ":" + sessionID
}

// Get returns the session's value if present and refreshes its TTL.
func (s *RedisStore[T]) Get(ctx context.Context, sessionID string) (T, bool, error) {
	var value T
	if err := checkID(sessionID); err != nil {
		return value, false, err
	}

	found, err := s.client.GetJSON(ctx, s.key(sessionID), &value)
	if err != nil {
		return value, false, fmt.Errorf("failed to read %s for session: %w", s.namespace, err)
	}
	if found && s.ttl > 0 {
		if err := s.client.Expire(ctx, s.key(sessionID), s.ttl); err != nil {
			return value, false, fmt.Errorf("failed to refresh %s for session: %w", s.namespace, err)
		}
	}
	return value, found, nil
}

// Put stores the value and refreshes its TTL.
func (s *RedisStore[T]) Put(ctx context.Context, sessionID string, value T) error {
	if err := checkID(sessionID); err != nil {
		return err
	}

	if err := s.client.SetJSON(ctx, s.key(sessionID), value, s.ttl); err != nil {
		return fmt.Errorf("failed to write %s for session: %w", s.namespace, err)
	}
	return nil
}

// Delete removes the session's value.
func (s *RedisStore[T]) Delete(ctx context.Context, sessionID string) error {
	if err := checkID(sessionID); err != nil {
		return err
	}

	if err := s.client.Delete(ctx, s.key(sessionID)); err != nil {
		return fmt.Errorf("failed to delete %s for session: %w", s.namespace, err)
	}
	return nil
}
