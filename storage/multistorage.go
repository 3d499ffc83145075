package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// MultiStorageBackend mirrors every blob to several backends.
//
// Writes and deletes go to every backend and fail if any backend fails, so a
// successful Put means every mirror holds the new blob. Reads are served by the
// first backend that has the key; List is served by the first backend that answers.
type MultiStorageBackend struct {
	backends []interfaces.BlobStore
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new mirrored blob store. The first backend is the primary.
func NewMultiStorageBackend(backends []interfaces.BlobStore, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

func (m *MultiStorageBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var result *multierror.Error

	for _, backend := range m.backends {
		data, err := backend.Get(ctx, key)
		if err == nil {
			m.log.Debug("Fetched blob",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}
		if errors.Is(err, interfaces.ErrNotFound) {
			continue
		}

		result = multierror.Append(result, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Warn("Failed to fetch from backend",
			slog.String("backend_name", backend.Name()),
			slog.String("key", key),
			"err", err)
	}

	// A failing mirror might hold the blob, so only report absence when every backend answered.
	if err := result.ErrorOrNil(); err != nil {
		m.log.Error("No backend could serve blob",
			slog.String("key", key),
			slog.Int("failed_backends", result.Len()),
			slog.Duration("duration", time.Since(start)))
		return nil, err
	}
	return nil, interfaces.ErrNotFound
}

func (m *MultiStorageBackend) Put(ctx context.Context, key string, data []byte) error {
	var result *multierror.Error

	for _, backend := range m.backends {
		if err := backend.Put(ctx, key, data); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Error("Failed to store to backend",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				"err", err)
		}
	}

	return result.ErrorOrNil()
}

func (m *MultiStorageBackend) Delete(ctx context.Context, key string) error {
	var result *multierror.Error

	for _, backend := range m.backends {
		if err := backend.Delete(ctx, key); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}

	return result.ErrorOrNil()
}

func (m *MultiStorageBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var result *multierror.Error

	for _, backend := range m.backends {
		keys, err := backend.List(ctx, prefix)
		if err == nil {
			return keys, nil
		}
		result = multierror.Append(result, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if result == nil {
		return []string{}, nil
	}
	return nil, result.ErrorOrNil()
}

// Available checks if every backend is available, since writes need all of them.
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	if len(m.backends) == 0 {
		return false
	}
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			return false
		}
	}
	return true
}

// Name returns the name of this backend.
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined location URI of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
