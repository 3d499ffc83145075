package statekey

import (
	"testing"

	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "plain", input: "proj/x/y", expected: "proj/x/y"},
		{name: "dot segments", input: "proj/../x/./y", expected: "proj/x/y"},
		{name: "leading and trailing separators", input: "/proj/x/", expected: "proj/x"},
		{name: "repeated separators", input: "proj//x///y", expected: "proj/x/y"},
		{name: "backslashes", input: `proj\x\..\y`, expected: "proj/x/y"},
		{name: "only traversal", input: "../..", expected: ""},
		{name: "dots inside names are kept", input: "proj/a..b/.hidden", expected: "proj/a..b/.hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, got, Normalize(got), "normalize must be idempotent")
		})
	}
}

func TestNormalize_TraversalMatchesClean(t *testing.T) {
	assert.Equal(t, Normalize("proj/x/y"), Normalize("proj/../x/./y"))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		project     string
		path        string
		expected    string
		expectedErr bool
	}{
		{name: "simple", project: "infra", path: "prod/terraform.tfstate", expected: "infra/prod/terraform.tfstate"},
		{name: "traversal stripped", project: "../infra", path: "./prod/../net", expected: "infra/prod/net"},
		{name: "empty project", project: "", path: "x", expectedErr: true},
		{name: "dot project", project: "..", path: "x", expectedErr: true},
		{name: "multi segment project", project: "a/b", path: "x", expectedErr: true},
		{name: "empty path", project: "infra", path: "/./", expectedErr: true},
		{name: "backup suffix", project: "infra", path: "prod.2", expectedErr: true},
		{name: "non numeric suffix", project: "infra", path: "prod.tfstate", expected: "infra/prod.tfstate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := New(tt.project, tt.path)
			if tt.expectedErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, key.String())
			assert.Equal(t, Normalize(tt.project+"/"+tt.path), key.String())
		})
	}
}

func TestKey_LockKeyAndBackups(t *testing.T) {
	key, err := New("infra", "prod/state")
	require.NoError(t, err)

	lk := key.LockKey()
	assert.Equal(t, "infra", lk.Project)
	assert.Equal(t, "prod/state", lk.Name)
	assert.Equal(t, key.String(), lk.String())

	assert.Equal(t, "infra/prod/state.1", key.Backup(1))
	assert.Equal(t, "infra/prod/state.3", BackupKey(key.String(), 3))
}

func TestBackupSlot(t *testing.T) {
	tests := []struct {
		key  string
		slot int
		ok   bool
	}{
		{key: "infra/prod.1", slot: 1, ok: true},
		{key: "infra/prod.12", slot: 12, ok: true},
		{key: "infra/prod", ok: false},
		{key: "infra/prod.", ok: false},
		{key: "infra/prod.1a", ok: false},
		{key: "infra.1/prod", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			slot, ok := BackupSlot(tt.key)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.slot, slot)
			assert.Equal(t, tt.ok, IsBackupKey(tt.key))
		})
	}
}
