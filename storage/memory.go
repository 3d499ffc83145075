package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// MemoryBackend keeps blobs in process memory. It is meant for tests and
// single-process development setups; contents are lost on restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	name  string
	log   *slog.Logger
}

// NewMemoryBackend creates an empty in-memory blob store.
func NewMemoryBackend(name string, log *slog.Logger) *MemoryBackend {
	if name == "" {
		name = "default"
	}
	return &MemoryBackend{
		blobs: make(map[string][]byte),
		name:  name,
		log:   log,
	}
}

func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[key]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[key] = append([]byte(nil), data...)
	b.log.Debug("Stored blob in memory", slog.String("key", key), slog.Int("size", len(data)))
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.blobs, key)
	return nil
}

func (b *MemoryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.blobs))
	for key := range b.blobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return "mem-" + b.name
}

func (b *MemoryBackend) LocationURI() string {
	return fmt.Sprintf("mem://%s", b.name)
}
