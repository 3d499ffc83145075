package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ruteri/tf-state-backend/interfaces"
	"go.etcd.io/bbolt"
)

var (
	bucketLocks  = []byte("locks")
	bucketConfig = []byte("config")
)

// BoltStore keeps lock records and configuration in a single bbolt file.
// bbolt serializes write transactions, which makes the check-then-put of
// InsertLockIfAbsent atomic. The file can only be opened by one process.
type BoltStore struct {
	db   *bbolt.DB
	path string
	log  *slog.Logger
}

// OpenBolt opens (or creates) the database file at path.
func OpenBolt(path string, log *slog.Logger) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketLocks, bucketConfig} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug("Opened metadata database", slog.String("path", path))
	return &BoltStore{db: db, path: path, log: log}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetLock(ctx context.Context, key interfaces.LockKey) (*interfaces.LockInfo, error) {
	var info *interfaces.LockInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketLocks).Get([]byte(key.String()))
		if val == nil {
			return interfaces.ErrNotFound
		}

		var err error
		info, err = interfaces.UnmarshalLockInfo(val)
		return err
	})
	return info, err
}

func (s *BoltStore) InsertLockIfAbsent(ctx context.Context, key interfaces.LockKey, info *interfaces.LockInfo) (*interfaces.LockInfo, error) {
	var existing *interfaces.LockInfo
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		if val := bucket.Get([]byte(key.String())); val != nil {
			var err error
			existing, err = interfaces.UnmarshalLockInfo(val)
			return err
		}
		return bucket.Put([]byte(key.String()), info.Marshal())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to insert lock: %w", err)
	}
	return existing, nil
}

func (s *BoltStore) DeleteLock(ctx context.Context, key interfaces.LockKey, expectedID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLocks)
		val := bucket.Get([]byte(key.String()))
		if val == nil {
			return interfaces.ErrNotFound
		}
		if expectedID != "" {
			current, err := interfaces.UnmarshalLockInfo(val)
			if err != nil {
				return err
			}
			if current.ID != expectedID {
				return interfaces.ErrNotFound
			}
		}
		return bucket.Delete([]byte(key.String()))
	})
}

func (s *BoltStore) GetMaxBackups(ctx context.Context) (int, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if val := tx.Bucket(bucketConfig).Get([]byte(configKeyMaxBackups)); val != nil {
			raw = append([]byte(nil), val...)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return interfaces.DefaultMaxBackups, nil
	}
	return parseMaxBackups(string(raw))
}

func (s *BoltStore) SetMaxBackups(ctx context.Context, n int) error {
	if err := validateMaxBackups(n); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(configKeyMaxBackups), []byte(strconv.Itoa(n)))
	})
}

func (s *BoltStore) Available(ctx context.Context) bool {
	return s.db.View(func(tx *bbolt.Tx) error { return nil }) == nil
}

func (s *BoltStore) Name() string {
	return "bolt-" + s.path
}
