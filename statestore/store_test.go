package statestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/metadata"
	"github.com/ruteri/tf-state-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInjected = errors.New("injected failure")

// failingStore fails every call of one operation on one key.
type failingStore struct {
	interfaces.BlobStore
	op  string
	key string
}

func (f *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.op == "get" && f.key == key {
		return nil, errInjected
	}
	return f.BlobStore.Get(ctx, key)
}

func (f *failingStore) Put(ctx context.Context, key string, data []byte) error {
	if f.op == "put" && f.key == key {
		return errInjected
	}
	return f.BlobStore.Put(ctx, key, data)
}

func (f *failingStore) Delete(ctx context.Context, key string) error {
	if f.op == "delete" && f.key == key {
		return errInjected
	}
	return f.BlobStore.Delete(ctx, key)
}

func newTestStore(t *testing.T) (*Store, *storage.MemoryBackend, *metadata.MemoryStore) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs := storage.NewMemoryBackend("test", log)
	config := metadata.NewMemoryStore("test", log)
	return New(blobs, config, log), blobs, config
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	data := []byte(`{"version":4,"serial":1}`)
	require.NoError(t, store.Put(ctx, "infra", "prod/network", data))

	got, err := store.Get(ctx, "infra", "prod/network")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Equivalent paths address the same object
	got, err = store.Get(ctx, "infra", `//prod\./network/`)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestStore_GetMissing(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "infra", "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStore_InvalidKey(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	tests := []struct {
		name    string
		project string
		path    string
	}{
		{name: "empty project", project: "", path: "prod"},
		{name: "empty path", project: "infra", path: "/./"},
		{name: "backup suffix", project: "infra", path: "prod.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(ctx, tt.project, tt.path, []byte("x")), interfaces.ErrInvalidKey)
			_, err := store.Get(ctx, tt.project, tt.path)
			assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
			assert.ErrorIs(t, store.Delete(ctx, tt.project, tt.path), interfaces.ErrInvalidKey)
		})
	}

	keys, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStore_BackupChain(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	for _, version := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, store.Put(ctx, "infra", "prod", []byte(version)))
	}

	current, err := store.Get(ctx, "infra", "prod")
	require.NoError(t, err)
	assert.Equal(t, []byte("v4"), current)

	for slot, expected := range map[int]string{1: "v3", 2: "v2", 3: "v1"} {
		data, err := store.GetBackup(ctx, "infra", "prod", slot)
		require.NoError(t, err)
		assert.Equal(t, []byte(expected), data, "slot %d", slot)
	}

	_, err = blobs.Get(ctx, "infra/prod.4")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = store.GetBackup(ctx, "infra", "prod", 4)
	assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
	_, err = store.GetBackup(ctx, "infra", "prod", 0)
	assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
}

func TestStore_GetBackupMissingSlot(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	require.NoError(t, store.Put(ctx, "infra", "prod", []byte("v1")))

	_, err := store.GetBackup(ctx, "infra", "prod", 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestStore_ChainFollowsConfig(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	require.NoError(t, store.SetMaxBackups(ctx, 1))
	for _, version := range []string{"v1", "v2", "v3"} {
		require.NoError(t, store.Put(ctx, "infra", "prod", []byte(version)))
	}

	keys, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"infra/prod", "infra/prod.1"}, keys)

	n, err := store.MaxBackups(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.ErrorIs(t, store.SetMaxBackups(ctx, 0), interfaces.ErrInvalidConfig)
}

func TestStore_PutFailsClosed(t *testing.T) {
	ctx := context.Background()
	store, blobs, config := newTestStore(t)

	require.NoError(t, store.Put(ctx, "infra", "prod", []byte("v1")))
	require.NoError(t, store.Put(ctx, "infra", "prod", []byte("v2")))

	// Rotation cannot write slot 1, so v2 must not be overwritten
	faulty := &failingStore{BlobStore: blobs, op: "put", key: "infra/prod.1"}
	store = New(faulty, config, store.log)

	err := store.Put(ctx, "infra", "prod", []byte("v3"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	var storeErr *interfaces.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "infra/prod.1", storeErr.Key)

	current, err := blobs.Get(ctx, "infra/prod")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), current)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	for _, version := range []string{"v1", "v2", "v3", "v4", "v5"} {
		require.NoError(t, store.Put(ctx, "infra", "prod", []byte(version)))
	}
	require.NoError(t, store.Put(ctx, "infra", "staging", []byte("s1")))

	require.NoError(t, store.Delete(ctx, "infra", "prod"))

	keys, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"infra/staging"}, keys)

	_, err = store.Get(ctx, "infra", "prod")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Deleting again is not an error
	assert.NoError(t, store.Delete(ctx, "infra", "prod"))
}

func TestStore_DeleteAttemptsEverySlot(t *testing.T) {
	ctx := context.Background()
	store, blobs, _ := newTestStore(t)

	for _, version := range []string{"v1", "v2", "v3", "v4"} {
		require.NoError(t, store.Put(ctx, "infra", "prod", []byte(version)))
	}

	store.blobs = &failingStore{BlobStore: blobs, op: "delete", key: "infra/prod.2"}

	err := store.Delete(ctx, "infra", "prod")
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)

	keys, err := blobs.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"infra/prod.2"}, keys)
}

func TestStore_ListStates(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	require.NoError(t, store.Put(ctx, "infra", "prod", []byte("v1")))
	require.NoError(t, store.Put(ctx, "infra", "prod", []byte("v2")))
	require.NoError(t, store.Put(ctx, "apps", "web/frontend", []byte("w1")))

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"apps/web/frontend", "infra/prod", "infra/prod.1"}, all)

	states, err := store.ListStates(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"apps/web/frontend", "infra/prod"}, states)
}
