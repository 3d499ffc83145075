package metadata

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// MemoryStore is an in-process metadata store for tests and development.
type MemoryStore struct {
	mu         sync.Mutex
	locks      map[interfaces.LockKey]*interfaces.LockInfo
	maxBackups int
	name       string
	log        *slog.Logger
}

func NewMemoryStore(name string, log *slog.Logger) *MemoryStore {
	if name == "" {
		name = "default"
	}
	return &MemoryStore{
		locks: make(map[interfaces.LockKey]*interfaces.LockInfo),
		name:  name,
		log:   log,
	}
}

func (s *MemoryStore) GetLock(ctx context.Context, key interfaces.LockKey) (*interfaces.LockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.locks[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return info.Clone(), nil
}

func (s *MemoryStore) InsertLockIfAbsent(ctx context.Context, key interfaces.LockKey, info *interfaces.LockInfo) (*interfaces.LockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.locks[key]; ok {
		return existing.Clone(), nil
	}
	s.locks[key] = info.Clone()
	s.log.Debug("Inserted lock record", slog.String("key", key.String()), slog.String("id", info.ID))
	return nil, nil
}

func (s *MemoryStore) DeleteLock(ctx context.Context, key interfaces.LockKey, expectedID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[key]
	if !ok || (expectedID != "" && existing.ID != expectedID) {
		return interfaces.ErrNotFound
	}
	delete(s.locks, key)
	return nil
}

func (s *MemoryStore) GetMaxBackups(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxBackups == 0 {
		return interfaces.DefaultMaxBackups, nil
	}
	return s.maxBackups, nil
}

func (s *MemoryStore) SetMaxBackups(ctx context.Context, n int) error {
	if err := validateMaxBackups(n); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxBackups = n
	return nil
}

func (s *MemoryStore) Available(ctx context.Context) bool {
	return true
}

func (s *MemoryStore) Name() string {
	return "mem-" + s.name
}
