package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a state object, backup slot or lock record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLockConflict is returned when a lock is already held for the key.
	// The concrete error is a *LockConflictError carrying the existing record.
	ErrLockConflict = errors.New("state already locked")

	// ErrLockIDMismatch is returned when a release presents an ID that does
	// not match the stored lock record.
	ErrLockIDMismatch = errors.New("lock ID mismatch")

	// ErrInvalidKey is returned for empty or malformed logical keys and other
	// request validation failures. No store is touched when it is returned.
	ErrInvalidKey = errors.New("invalid state key")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration value")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// LockConflictError reports an acquire against an already locked key.
type LockConflictError struct {
	Existing *LockInfo
}

func (e *LockConflictError) Error() string {
	if e.Existing == nil {
		return ErrLockConflict.Error()
	}
	return fmt.Sprintf("%s: ID=%s", ErrLockConflict.Error(), e.Existing.ID)
}

// Is makes errors.Is(err, ErrLockConflict) hold for conflict errors.
func (e *LockConflictError) Is(target error) bool {
	return target == ErrLockConflict
}

// StoreError wraps a failed call to a blob or metadata store with the
// operation and key it was issued for.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps err unless it is nil or already a StoreError.
func NewStoreError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Key: key, Err: err}
}
