package metadata

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testMetadataStore exercises the interfaces.MetadataStore contract.
func testMetadataStore(t *testing.T, store interfaces.MetadataStore) {
	ctx := context.Background()
	key := interfaces.LockKey{Project: "infra", Name: "prod/net"}

	t.Run("missing lock", func(t *testing.T) {
		_, err := store.GetLock(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		assert.ErrorIs(t, store.DeleteLock(ctx, key, ""), interfaces.ErrNotFound)
	})

	t.Run("insert if absent", func(t *testing.T) {
		first := &interfaces.LockInfo{ID: "L1", Operation: "apply", Who: "alice@host", Path: key.String()}
		existing, err := store.InsertLockIfAbsent(ctx, key, first)
		require.NoError(t, err)
		assert.Nil(t, existing)

		second := &interfaces.LockInfo{ID: "L2", Who: "bob@host", Path: key.String()}
		existing, err = store.InsertLockIfAbsent(ctx, key, second)
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, "L1", existing.ID)
		assert.Equal(t, "alice@host", existing.Who)

		got, err := store.GetLock(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	})

	t.Run("conditional delete", func(t *testing.T) {
		err := store.DeleteLock(ctx, key, "L2")
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		got, err := store.GetLock(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "L1", got.ID)

		require.NoError(t, store.DeleteLock(ctx, key, "L1"))
		_, err = store.GetLock(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("unconditional delete", func(t *testing.T) {
		_, err := store.InsertLockIfAbsent(ctx, key, &interfaces.LockInfo{ID: "L3"})
		require.NoError(t, err)
		require.NoError(t, store.DeleteLock(ctx, key, ""))
		_, err = store.GetLock(ctx, key)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
	})

	t.Run("keys are independent", func(t *testing.T) {
		other := interfaces.LockKey{Project: "infra", Name: "prod"}
		_, err := store.InsertLockIfAbsent(ctx, key, &interfaces.LockInfo{ID: "A"})
		require.NoError(t, err)
		existing, err := store.InsertLockIfAbsent(ctx, other, &interfaces.LockInfo{ID: "B"})
		require.NoError(t, err)
		assert.Nil(t, existing)

		require.NoError(t, store.DeleteLock(ctx, key, "A"))
		require.NoError(t, store.DeleteLock(ctx, other, "B"))
	})

	t.Run("max backups", func(t *testing.T) {
		n, err := store.GetMaxBackups(ctx)
		require.NoError(t, err)
		assert.Equal(t, interfaces.DefaultMaxBackups, n)

		require.NoError(t, store.SetMaxBackups(ctx, 5))
		n, err = store.GetMaxBackups(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		assert.ErrorIs(t, store.SetMaxBackups(ctx, 0), interfaces.ErrInvalidConfig)
		assert.ErrorIs(t, store.SetMaxBackups(ctx, -2), interfaces.ErrInvalidConfig)

		n, err = store.GetMaxBackups(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("concurrent acquire has one winner", func(t *testing.T) {
		contested := interfaces.LockKey{Project: "infra", Name: "contested"}

		const workers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				existing, err := store.InsertLockIfAbsent(ctx, contested, &interfaces.LockInfo{ID: string(rune('a' + i))})
				if assert.NoError(t, err) && existing == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, winners)
	})

	assert.True(t, store.Available(ctx))
	assert.NotEmpty(t, store.Name())
}

func TestMemoryStore(t *testing.T) {
	testMetadataStore(t, NewMemoryStore("test", discardLogger()))
}

func TestBoltStore(t *testing.T) {
	store, err := OpenBolt(filepath.Join(t.TempDir(), "metadata.db"), discardLogger())
	require.NoError(t, err)
	defer store.Close()

	testMetadataStore(t, store)
}

func TestBoltStore_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metadata.db")
	key := interfaces.LockKey{Project: "infra", Name: "prod"}

	store, err := OpenBolt(path, discardLogger())
	require.NoError(t, err)
	_, err = store.InsertLockIfAbsent(ctx, key, &interfaces.LockInfo{ID: "L1"})
	require.NoError(t, err)
	require.NoError(t, store.SetMaxBackups(ctx, 7))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetLock(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "L1", got.ID)

	n, err := reopened.GetMaxBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestParseMaxBackups(t *testing.T) {
	tests := []struct {
		raw         string
		expected    int
		expectedErr bool
	}{
		{raw: "3", expected: 3},
		{raw: "12", expected: 12},
		{raw: "0", expectedErr: true},
		{raw: "-1", expectedErr: true},
		{raw: "three", expectedErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			n, err := parseMaxBackups(tt.raw)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, n)
		})
	}
}

func TestStoreFactory(t *testing.T) {
	ctx := context.Background()
	factory := NewStoreFactory(discardLogger())

	tests := []struct {
		name         string
		uri          string
		expectedType interface{}
		expectedErr  error
	}{
		{name: "memory", uri: "mem://dev", expectedType: &MemoryStore{}},
		{name: "bolt", uri: "bolt://" + filepath.Join(t.TempDir(), "m.db"), expectedType: &BoltStore{}},
		{name: "dynamodb without table", uri: "dynamodb:///?region=eu-west-1", expectedErr: interfaces.ErrInvalidLocationURI},
		{name: "blob scheme", uri: "s3://bucket/prefix", expectedErr: interfaces.ErrInvalidLocationURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			location, err := interfaces.NewStorageBackendLocation(tt.uri)
			require.NoError(t, err)

			store, err := factory.MetadataStoreFor(ctx, location)
			if tt.expectedErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.expectedErr))
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.expectedType, store)
			if closer, ok := store.(io.Closer); ok {
				require.NoError(t, closer.Close())
			}
		})
	}
}
