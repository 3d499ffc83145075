package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// FileBackend implements a blob store using the local file system.
// Every key is stored as one file in a flat directory; the key is path-escaped
// so that "a/b" and "a/b/c" can coexist.
type FileBackend struct {
	baseDir     string
	blobDir     string
	tmpDir      string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a new file blob store using the specified base directory.
// It creates the blobs and tmp subdirectories if they don't exist.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	blobDir := filepath.Join(baseDir, "blobs")
	tmpDir := filepath.Join(baseDir, "tmp")

	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}

	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tmp directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		blobDir:     blobDir,
		tmpDir:      tmpDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Get reads the blob stored under key.
// Returns ErrNotFound if the file doesn't exist.
func (b *FileBackend) Get(ctx context.Context, key string) ([]byte, error) {
	filePath := b.getFilePath(key)

	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	b.log.Debug("Fetched blob from file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return data, nil
}

// Put writes the blob through a temporary file and a rename, so readers
// never observe a partially written blob.
func (b *FileBackend) Put(ctx context.Context, key string, data []byte) error {
	filePath := b.getFilePath(key)

	tmp, err := os.CreateTemp(b.tmpDir, "blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	b.log.Debug("Stored blob in file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the blob file. Missing files are ignored.
func (b *FileBackend) Delete(ctx context.Context, key string) error {
	err := os.Remove(b.getFilePath(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}

// List returns all stored keys with the given prefix.
func (b *FileBackend) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.blobDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read blobs directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			b.log.Warn("Skipping undecodable blob file", slog.String("file", entry.Name()), "err", err)
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Available checks if the file backend is accessible by verifying the base directory exists.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.blobDir)
	if err != nil {
		b.log.Debug("File backend unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI that identifies this storage backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

// getFilePath generates the file path for a key.
func (b *FileBackend) getFilePath(key string) string {
	return filepath.Join(b.blobDir, url.PathEscape(key))
}
