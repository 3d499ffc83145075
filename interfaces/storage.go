package interfaces

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// StorageBackendLocation represents URI for storage backend.
type StorageBackendLocation struct {
	Raw    string     // Original URI
	Scheme string     // Protocol
	Host   string     // Hostname
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewStorageBackendLocation creates a new storage location from a URI string with validation.
func NewStorageBackendLocation(uri string) (StorageBackendLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return StorageBackendLocation{}, fmt.Errorf("%w: %v", ErrInvalidLocationURI, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch scheme {
	case "file", "s3", "minio", "ipfs", "vault", "mem":
		// blob stores
	case "postgres", "postgresql", "dynamodb", "bolt":
		// metadata stores
	default:
		return StorageBackendLocation{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocationURI, parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return StorageBackendLocation{
		Raw:    uri,
		Scheme: scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc StorageBackendLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc StorageBackendLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc StorageBackendLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

// BlobStore is a key-addressed blob service holding current state objects
// and their numbered backups.
//
// Implementations must treat Delete of a missing key as success and return
// ErrNotFound from Get when the key is absent.
type BlobStore interface {
	// Get returns the blob stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put creates or replaces the blob stored under key.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the blob stored under key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// BlobStoreFactory creates blob stores.
type BlobStoreFactory interface {
	// BlobStoreFor creates backend from URI.
	// Supports file://, s3://, minio://, ipfs://, vault://, mem://
	BlobStoreFor(location StorageBackendLocation) (BlobStore, error)

	// CreateMirroredStore creates a blob store writing to every location.
	CreateMirroredStore(locations []StorageBackendLocation) (BlobStore, error)
}
