// Package backup maintains the numbered backup chain of a state object.
//
// For a key K and depth N the chain is K.1 … K.N, with K.1 the most recent
// previous version. Rotation shifts every slot one position down and copies
// the current object into K.1, evicting K.N.
package backup

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/metrics"
	"github.com/ruteri/tf-state-backend/statekey"
)

// Rotator shifts backup chains. It holds no state between calls; the depth
// is read from the config store on every rotation.
type Rotator struct {
	blobs  interfaces.BlobStore
	config interfaces.ConfigStore
	log    *slog.Logger
}

func NewRotator(blobs interfaces.BlobStore, config interfaces.ConfigStore, log *slog.Logger) *Rotator {
	return &Rotator{
		blobs:  blobs,
		config: config,
		log:    log,
	}
}

// Rotate prepares the chain of key for a new version of the current object.
//
// Steps, in order:
//  1. delete slot N
//  2. for i = N-1 down to 1: if slot i exists, copy it to i+1 and delete i
//  3. if the current object exists, copy it to slot 1
//
// The current object is never modified. Every step is idempotent, so after a
// failure the whole rotation can be re-run. Slot N+1 is never written.
func (r *Rotator) Rotate(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveRotation(time.Since(start), err)
	}()

	n, err := r.config.GetMaxBackups(ctx)
	if err != nil {
		return interfaces.NewStoreError("get config", "", err)
	}

	oldest := statekey.BackupKey(key, n)
	if err := r.blobs.Delete(ctx, oldest); err != nil {
		return interfaces.NewStoreError("delete", oldest, err)
	}

	for i := n - 1; i >= 1; i-- {
		if err := r.shift(ctx, statekey.BackupKey(key, i), statekey.BackupKey(key, i+1)); err != nil {
			return err
		}
	}

	current, err := r.blobs.Get(ctx, key)
	if errors.Is(err, interfaces.ErrNotFound) {
		r.log.Debug("No current state to back up", slog.String("key", key))
		return nil
	}
	if err != nil {
		return interfaces.NewStoreError("get", key, err)
	}

	first := statekey.BackupKey(key, 1)
	if err := r.blobs.Put(ctx, first, current); err != nil {
		return interfaces.NewStoreError("put", first, err)
	}

	r.log.Debug("Rotated backups",
		slog.String("key", key),
		slog.Int("max_backups", n),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// shift moves the blob at from to to. A missing source is a no-op.
func (r *Rotator) shift(ctx context.Context, from, to string) error {
	data, err := r.blobs.Get(ctx, from)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return interfaces.NewStoreError("get", from, err)
	}

	if err := r.blobs.Put(ctx, to, data); err != nil {
		return interfaces.NewStoreError("put", to, err)
	}
	if err := r.blobs.Delete(ctx, from); err != nil {
		return interfaces.NewStoreError("delete", from, err)
	}
	return nil
}
