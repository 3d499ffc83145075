package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// IPFSBackend implements a mutable blob store on the IPFS Mutable File System.
// Every key is one MFS file below rootDir; the key is path-escaped so that
// nested state paths never turn into MFS directories.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	rootDir     string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS MFS blob store using the node API at host:port.
func NewIPFSBackend(host, port, rootDir string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	rootDir = "/" + strings.Trim(rootDir, "/")
	if rootDir == "/" {
		rootDir = "/tfstate"
	}

	sh := shell.NewShell(apiURL)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSBackend{
		shell:       sh,
		host:        host,
		port:        port,
		rootDir:     rootDir,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiURL, rootDir, timeout),
	}, nil
}

// Get reads the MFS file stored for key.
// Returns ErrNotFound if the file doesn't exist.
func (b *IPFSBackend) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	filePath := b.filePath(key)

	reader, err := b.shell.FilesRead(ctx, filePath)
	if err != nil {
		if isIPFSNotFound(err) {
			b.log.Debug("Blob not found in IPFS",
				slog.String("path", filePath),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrNotFound
		}

		b.log.Error("Failed to read blob from IPFS",
			slog.String("path", filePath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched blob from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Put replaces the MFS file stored for key.
func (b *IPFSBackend) Put(ctx context.Context, key string, data []byte) error {
	filePath := b.filePath(key)

	err := b.shell.FilesWrite(ctx, filePath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	b.log.Debug("Stored blob in IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)))

	return nil
}

// Delete removes the MFS file stored for key. Missing files are ignored.
func (b *IPFSBackend) Delete(ctx context.Context, key string) error {
	err := b.shell.FilesRm(ctx, b.filePath(key), true)
	if err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("failed to remove data from IPFS: %w", err)
	}
	return nil
}

// List returns every key with the given prefix.
func (b *IPFSBackend) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := b.shell.FilesLs(ctx, b.rootDir, shell.FilesLs.Stat(true))
	if err != nil {
		if isIPFSNotFound(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list IPFS directory: %w", err)
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == shell.TDirectory {
			continue
		}
		key, err := url.PathUnescape(entry.Name)
		if err != nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) filePath(key string) string {
	return path.Join(b.rootDir, url.PathEscape(key))
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
