// Package session provides storage for state scoped to one client session.
//
// Every value lives under a namespace ("dataset", "prompts", ...) and a
// session ID. A value expires once it has been neither read nor written for
// the configured TTL; each Get or Put restarts its clock. Values are replaced
// wholesale on Put; callers must not mutate a value after storing it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/instantcocoa/evalbench/pkg/cache"
	"github.com/instantcocoa/evalbench/pkg/config"
)

// ErrNoSession is returned when an operation is called without a session ID.
var ErrNoSession = errors.New("session id is required")

// Store holds one value of type T per session.
type Store[T any] interface {
	// Get returns the value for the session and whether it exists.
	Get(ctx context.Context, sessionID string) (T, bool, error)

	// Put stores the value for the session, replacing any previous value.
	Put(ctx context.Context, sessionID string, value T) error

	// Delete removes the session's value. Deleting a missing value is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// NewID returns a new random session ID.
func NewID() string {
	return uuid.NewString()
}

// NewStore returns a Redis-backed store when the configuration selects Redis
// and a client is available, and an in-memory store otherwise.
func NewStore[T any](cfg *config.Base, client *cache.Client, namespace string) Store[T] {
	if cfg.UseRedisStorage() && client != nil {
		return NewRedisStore[T](client, namespace, cfg.SessionTTL)
	}
	return NewMemoryStore[T](cfg.SessionTTL)
}

func checkID(sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	return nil
}

type memoryEntry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryStore is an in-process Store with idle expiry.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store. A non-positive ttl disables expiry.
func NewMemoryStore[T any](ttl time.Duration) *MemoryStore[T] {
	return &MemoryStore[T]{
		entries: make(map[string]memoryEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore[T]) expired(e memoryEntry[T]) bool {
	return !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt)
}

// Get returns the session's value if present and not expired, and restarts
// its expiry clock.
func (s *MemoryStore[T]) Get(ctx context.Context, sessionID string) (T, bool, error) {
	var zero T
	if err := checkID(sessionID); err != nil {
		return zero, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok || s.expired(e) {
		return zero, false, nil
	}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
		s.entries[sessionID] = e
	}
	return e.value, true, nil
}

// Put stores the value and restarts the session's expiry clock.
func (s *MemoryStore[T]) Put(ctx context.Context, sessionID string, value T) error {
	if err := checkID(sessionID); err != nil {
		return err
	}

	e := memoryEntry[T]{value: value}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[sessionID] = e
	s.mu.Unlock()
	return nil
}

// Delete removes the session's value.
func (s *MemoryStore[T]) Delete(ctx context.Context, sessionID string) error {
	if err := checkID(sessionID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, sessionID)
	s.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore[T]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		if s.expired(e) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweeper is implemented by stores that need periodic cleanup.
type Sweeper interface {
	Sweep() int
}

// RunSweeper calls Sweep on every store each interval until ctx is done.
func RunSweeper(ctx context.Context, interval time.Duration, stores ...Sweeper) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range stores {
				s.Sweep()
			}
		}
	}
}
