package credential

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	creds  map[string]Credential
	now    func() time.Time
	logger *slog.Logger
}

// NewMemoryStore returns an empty MemoryStore. Encryption options are ignored.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		creds:  make(map[string]Credential),
		now:    o.now,
		logger: o.logger,
	}
}

func (s *MemoryStore) Store(_ context.Context, userID, accessToken, workspaceID string) error {
	if err := validateStore(userID, accessToken); err != nil {
		return err
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.creds[userID]
	if !ok {
		c = Credential{UserID: userID, CreatedAt: now}
	}
	c.AccessToken = accessToken
	c.WorkspaceID = workspaceID
	c.UpdatedAt = now
	s.creds[userID] = c
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.creds[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, userID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, Summary{UserID: c.UserID, WorkspaceID: c.WorkspaceID, CreatedAt: c.CreatedAt})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *MemoryStore) Expire(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, c := range s.creds {
		if c.UpdatedAt.Before(cutoff) {
			delete(s.creds, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired credentials", "count", removed)
	}
	return removed, nil
}

// Len returns the number of stored credentials.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

func (s *MemoryStore) Close() error { return nil }
