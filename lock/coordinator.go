// Package lock arbitrates exclusive access to state objects.
//
// A lock is a record in the metadata store keyed by (project, path). The
// store's atomic insert-if-absent is the only mutual exclusion primitive;
// nothing is cached in process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/metrics"
	"github.com/ruteri/tf-state-backend/statekey"
)

// releaseAttempts bounds the read-then-delete loop of Release when the
// record changes between the two calls.
const releaseAttempts = 3

type Coordinator struct {
	store interfaces.LockStore
	log   *slog.Logger
	now   func() time.Time
}

func NewCoordinator(store interfaces.LockStore, log *slog.Logger) *Coordinator {
	return &Coordinator{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Acquire records info as the lock holder of the key. The stored record has
// Path set to the logical key, Created defaulted to the current UTC time and
// ID defaulted to a random UUID. When the key is already locked the returned
// error is a *interfaces.LockConflictError carrying the current holder.
func (c *Coordinator) Acquire(ctx context.Context, project, path string, info *interfaces.LockInfo) (acquired *interfaces.LockInfo, err error) {
	defer func() { metrics.RecordLockOp("acquire", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return nil, err
	}

	record := info.Clone()
	if record == nil {
		record = &interfaces.LockInfo{}
	}
	record.Path = key.String()
	if record.Created == "" {
		record.Created = c.now().UTC().Format(time.RFC3339)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	existing, err := c.store.InsertLockIfAbsent(ctx, key.LockKey(), record)
	if err != nil {
		return nil, interfaces.NewStoreError("insert lock", key.String(), err)
	}
	if existing != nil {
		c.log.Debug("Lock conflict",
			slog.String("key", key.String()),
			slog.String("requested_id", record.ID),
			slog.String("holder_id", existing.ID),
			slog.String("holder", existing.Who))
		return nil, &interfaces.LockConflictError{Existing: existing}
	}

	c.log.Info("Lock acquired",
		slog.String("key", key.String()),
		slog.String("id", record.ID),
		slog.String("who", record.Who),
		slog.String("operation", record.Operation))
	return record, nil
}

// Release removes the lock of the key. A non-empty id must match the holder's
// ID, otherwise ErrLockIDMismatch is returned and the record stays. An empty
// id releases whatever lock is held.
//
// The delete is conditional on the ID that was read, so a lock re-acquired by
// someone else in between is never removed.
func (c *Coordinator) Release(ctx context.Context, project, path, id string) (err error) {
	defer func() { metrics.RecordLockOp("release", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < releaseAttempts; attempt++ {
		current, err := c.store.GetLock(ctx, key.LockKey())
		if errors.Is(err, interfaces.ErrNotFound) {
			return fmt.Errorf("lock %s: %w", key, interfaces.ErrNotFound)
		}
		if err != nil {
			return interfaces.NewStoreError("get lock", key.String(), err)
		}

		if id != "" && id != current.ID {
			c.log.Debug("Lock ID mismatch",
				slog.String("key", key.String()),
				slog.String("requested_id", id),
				slog.String("holder_id", current.ID))
			return fmt.Errorf("lock %s held by %s: %w", key, current.ID, interfaces.ErrLockIDMismatch)
		}

		err = c.store.DeleteLock(ctx, key.LockKey(), current.ID)
		if err == nil {
			c.log.Info("Lock released",
				slog.String("key", key.String()),
				slog.String("id", current.ID),
				slog.Bool("forced", id == ""))
			return nil
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			return interfaces.NewStoreError("delete lock", key.String(), err)
		}
		// The record changed since it was read; look again.
	}

	return interfaces.NewStoreError("delete lock", key.String(),
		fmt.Errorf("lock record kept changing after %d attempts", releaseAttempts))
}

// Inspect returns the current lock record of the key or ErrNotFound.
func (c *Coordinator) Inspect(ctx context.Context, project, path string) (info *interfaces.LockInfo, err error) {
	defer func() { metrics.RecordLockOp("inspect", err) }()

	key, err := statekey.New(project, path)
	if err != nil {
		return nil, err
	}

	info, err = c.store.GetLock(ctx, key.LockKey())
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("lock %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, interfaces.NewStoreError("get lock", key.String(), err)
	}
	return info, nil
}
