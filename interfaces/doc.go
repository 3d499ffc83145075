// Package interfaces defines the contracts and shared types of the state
// backend, separating interface definitions from implementations.
//
// # Storage Interfaces
//
// BlobStore: key-addressed blob service holding current state objects and
// their numbered backups (file, S3, MinIO, IPFS MFS, Vault KV, memory).
//
// MetadataStore: lock records and configuration (PostgreSQL, DynamoDB,
// bbolt, memory). Lock insertion is a single insert-if-absent call so that
// at most one record exists per key without any in-process coordination.
//
// BlobStoreFactory / MetadataStoreFactory: create backends from URIs of the form
// [scheme]://[auth@]host[:port][/path][?params].
//
// # Types
//
//   - LockInfo: lock record in the HTTP backend wire format
//   - LockKey: (project, name) identity of a lock record
//
// # Error Types
//
//   - ErrNotFound: state, backup slot or lock does not exist
//   - ErrLockConflict / LockConflictError: lock already held, carries the holder
//   - ErrLockIDMismatch: release with a foreign lock ID
//   - ErrInvalidKey: validation failure, raised before any store access
//   - ErrInvalidConfig: configuration value out of range
//   - StoreError: failed backend call with operation and key context
package interfaces
