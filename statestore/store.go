// Package statestore reads and writes the current state object of a logical
// key and keeps its backup chain in step with every write.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/ruteri/tf-state-backend/backup"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/metrics"
	"github.com/ruteri/tf-state-backend/statekey"
)

// Store is the state layer on top of a blob store. It keeps no state of its
// own; every call goes to the injected stores.
type Store struct {
	blobs   interfaces.BlobStore
	config  interfaces.ConfigStore
	rotator *backup.Rotator
	log     *slog.Logger
}

func New(blobs interfaces.BlobStore, config interfaces.ConfigStore, log *slog.Logger) *Store {
	return &Store{
		blobs:   blobs,
		config:  config,
		rotator: backup.NewRotator(blobs, config, log),
		log:     log,
	}
}

// Get returns the current state object or ErrNotFound.
func (s *Store) Get(ctx context.Context, project, path string) (data []byte, err error) {
	defer func() { metrics.RecordStateOp("get", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return nil, err
	}

	data, err = s.blobs.Get(ctx, key.String())
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("state %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, interfaces.NewStoreError("get", key.String(), err)
	}
	return data, nil
}

// GetBackup returns backup slot 1..N of the state object.
func (s *Store) GetBackup(ctx context.Context, project, path string, slot int) (data []byte, err error) {
	defer func() { metrics.RecordStateOp("get_backup", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return nil, err
	}

	n, err := s.config.GetMaxBackups(ctx)
	if err != nil {
		return nil, interfaces.NewStoreError("get config", "", err)
	}
	if slot < 1 || slot > n {
		return nil, fmt.Errorf("%w: backup slot %d outside 1..%d", interfaces.ErrInvalidKey, slot, n)
	}

	backupKey := key.Backup(slot)
	data, err = s.blobs.Get(ctx, backupKey)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("backup %s: %w", backupKey, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, interfaces.NewStoreError("get", backupKey, err)
	}
	return data, nil
}

// Put rotates the backup chain and then overwrites the current object. When
// rotation fails the current object is left as it was.
func (s *Store) Put(ctx context.Context, project, path string, data []byte) (err error) {
	defer func() { metrics.RecordStateOp("put", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return err
	}

	if err := s.rotator.Rotate(ctx, key.String()); err != nil {
		s.log.Error("Backup rotation failed, state not written",
			slog.String("key", key.String()),
			"err", err)
		return fmt.Errorf("rotating backups: %w", err)
	}

	if err := s.blobs.Put(ctx, key.String(), data); err != nil {
		return interfaces.NewStoreError("put", key.String(), err)
	}

	s.log.Debug("Stored state",
		slog.String("key", key.String()),
		slog.Int("size", len(data)))
	return nil
}

// Delete removes the current object and every backup slot 1..N. All deletes
// are attempted; failures are aggregated and nothing is rolled back.
func (s *Store) Delete(ctx context.Context, project, path string) (err error) {
	defer func() { metrics.RecordStateOp("delete", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return err
	}

	n, err := s.config.GetMaxBackups(ctx)
	if err != nil {
		return interfaces.NewStoreError("get config", "", err)
	}

	var result *multierror.Error
	if err := s.blobs.Delete(ctx, key.String()); err != nil {
		result = multierror.Append(result, interfaces.NewStoreError("delete", key.String(), err))
	}
	for i := 1; i <= n; i++ {
		backupKey := key.Backup(i)
		if err := s.blobs.Delete(ctx, backupKey); err != nil {
			result = multierror.Append(result, interfaces.NewStoreError("delete", backupKey, err))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		s.log.Error("Partial state delete",
			slog.String("key", key.String()),
			"err", err)
		return err
	}

	s.log.Debug("Deleted state and backups",
		slog.String("key", key.String()),
		slog.Int("max_backups", n))
	return nil
}

// List returns every key in the blob store, backup slots included.
func (s *Store) List(ctx context.Context) ([]string, error) {
	return s.ListStates(ctx, true)
}

// ListStates returns every key in the blob store. Backup slot keys are
// dropped unless includeBackups is set.
func (s *Store) ListStates(ctx context.Context, includeBackups bool) (keys []string, err error) {
	defer func() { metrics.RecordStateOp("list", err) }()

	all, err := s.blobs.List(ctx, "")
	if err != nil {
		return nil, interfaces.NewStoreError("list", "", err)
	}
	if includeBackups {
		return all, nil
	}

	keys = make([]string, 0, len(all))
	for _, k := range all {
		if !statekey.IsBackupKey(k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// MaxBackups returns the configured backup depth.
func (s *Store) MaxBackups(ctx context.Context) (int, error) {
	n, err := s.config.GetMaxBackups(ctx)
	if err != nil {
		return 0, interfaces.NewStoreError("get config", "", err)
	}
	return n, nil
}

// SetMaxBackups updates the backup depth. Existing slots above the new depth
// are left in place until the key is deleted.
func (s *Store) SetMaxBackups(ctx context.Context, n int) error {
	if err := s.config.SetMaxBackups(ctx, n); err != nil {
		if errors.Is(err, interfaces.ErrInvalidConfig) {
			return err
		}
		return interfaces.NewStoreError("set config", "", err)
	}
	s.log.Info("Updated backup depth", slog.Int("max_backups", n))
	return nil
}
