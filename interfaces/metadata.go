package interfaces

import "context"

// DefaultMaxBackups is the backup chain depth used when no value has been configured.
const DefaultMaxBackups = 3

// LockKey identifies the lock record of one logical state key.
type LockKey struct {
	Project string
	Name    string
}

// String returns the fully-qualified path protected by the lock.
func (k LockKey) String() string {
	return k.Project + "/" + k.Name
}

// LockStore persists lock records. It must never cache records in process:
// every call goes to the backing store.
type LockStore interface {
	// GetLock returns the lock record for key or ErrNotFound.
	GetLock(ctx context.Context, key LockKey) (*LockInfo, error)

	// InsertLockIfAbsent stores info for key in a single atomic operation
	// unless a record already exists. It returns (nil, nil) when the record
	// was inserted and the existing record when it was not.
	InsertLockIfAbsent(ctx context.Context, key LockKey, info *LockInfo) (*LockInfo, error)

	// DeleteLock removes the lock record for key. When expectedID is not
	// empty the record is only removed if its ID still equals expectedID.
	// Returns ErrNotFound when nothing was removed.
	DeleteLock(ctx context.Context, key LockKey, expectedID string) error
}

// ConfigStore persists the service tunables.
type ConfigStore interface {
	// GetMaxBackups returns the configured backup depth, or DefaultMaxBackups when unset.
	GetMaxBackups(ctx context.Context) (int, error)

	// SetMaxBackups stores the backup depth. n must be positive.
	SetMaxBackups(ctx context.Context, n int) error
}

// MetadataStore is the relational/key-value service holding lock records and configuration.
type MetadataStore interface {
	LockStore
	ConfigStore

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string
}

// MetadataStoreFactory creates metadata stores.
type MetadataStoreFactory interface {
	// MetadataStoreFor creates backend from URI.
	// Supports postgres://, dynamodb://, bolt://, mem://
	MetadataStoreFor(ctx context.Context, location StorageBackendLocation) (MetadataStore, error)
}
