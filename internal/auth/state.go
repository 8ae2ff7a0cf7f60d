package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPendingTTL bounds how long a user has to finish the consent screen.
	DefaultPendingTTL = 10 * time.Minute

	// DefaultCompletionTTL bounds how long a finished login can be polled for.
	DefaultCompletionTTL = 5 * time.Minute

	stateBytes = 32
)

// ErrStateCollision is returned when a freshly generated state already exists.
var ErrStateCollision = errors.New("state already registered")

// StateStore holds pending logins and finished-login markers. Take
// operations are atomic: a record is returned to at most one caller.
type StateStore interface {
	PutPending(ctx context.Context, state string, ttl time.Duration) error
	// TakePending consumes a pending login. It reports false when the
	// state is unknown, expired or already used.
	TakePending(ctx context.Context, state string) (bool, error)

	PutCompleted(ctx context.Context, state, userID string, ttl time.Duration) error
	// TakeCompleted consumes the user bound to a finished login.
	TakeCompleted(ctx context.Context, state string) (string, bool, error)
}

// NewState returns 32 random bytes, URL-safe base64 without padding.
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type stateEntry struct {
	userID    string
	expiresAt time.Time
}

// MemoryStateStore keeps login state in process memory.
type MemoryStateStore struct {
	mu        sync.Mutex
	pending   map[string]stateEntry
	completed map[string]stateEntry
	now       func() time.Time
	logger    *slog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStateStore starts a store that sweeps expired entries every
// cleanupInterval. A non-positive interval disables sweeping; expired
// entries are still never returned.
func NewMemoryStateStore(cleanupInterval time.Duration, logger *slog.Logger) *MemoryStateStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MemoryStateStore{
		pending:   make(map[string]stateEntry),
		completed: make(map[string]stateEntry),
		now:       time.Now,
		logger:    logger,
		stop:      make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanup(cleanupInterval)
	}
	return s
}

// SetClock overrides the time source.
func (s *MemoryStateStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStateStore) PutPending(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[state]; ok && s.now().Before(e.expiresAt) {
		return ErrStateCollision
	}
	s.pending[state] = stateEntry{expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) TakePending(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[state]
	if !ok {
		return false, nil
	}
	delete(s.pending, state)
	return s.now().Before(e.expiresAt), nil
}

func (s *MemoryStateStore) PutCompleted(_ context.Context, state, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed[state] = stateEntry{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) TakeCompleted(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.completed[state]
	if !ok {
		return "", false, nil
	}
	delete(s.completed, state)
	if !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.userID, true, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStateStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStateStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStateStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for _, m := range []map[string]stateEntry{s.pending, s.completed} {
		for k, e := range m {
			if !now.Before(e.expiresAt) {
				delete(m, k)
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Debug("cleaned up expired login state", "removed", removed)
	}
}

// RedisStateStore keeps login state in Redis so any replica can finish a
// login another replica started.
type RedisStateStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStateStore stores keys under prefix ("noted:" gives
// "noted:login:pending:<state>").
func NewRedisStateStore(client redis.UniversalClient, prefix string) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: prefix + "login:"}
}

func (s *RedisStateStore) pendingKey(state string) string   { return s.prefix + "pending:" + state }
func (s *RedisStateStore) completedKey(state string) string { return s.prefix + "completed:" + state }

func (s *RedisStateStore) PutPending(ctx context.Context, state string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, s.pendingKey(state), "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store pending login: %w", err)
	}
	if !ok {
		return ErrStateCollision
	}
	return nil
}

func (s *RedisStateStore) TakePending(ctx context.Context, state string) (bool, error) {
	_, err := s.client.GetDel(ctx, s.pendingKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to consume pending login: %w", err)
	}
	return true, nil
}

func (s *RedisStateStore) PutCompleted(ctx context.Context, state, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.completedKey(state), userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store completed login: %w", err)
	}
	return nil
}

func (s *RedisStateStore) TakeCompleted(ctx context.Context, state string) (string, bool, error) {
	userID, err := s.client.GetDel(ctx, s.completedKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to consume completed login: %w", err)
	}
	return userID, true, nil
}
