// Package statekey maps (project, state path) pairs onto normalized storage keys.
package statekey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ruteri/tf-state-backend/interfaces"
)

// Separator joins key segments.
const Separator = "/"

// Key is a validated logical key.
type Key struct {
	Project string
	Path    string
}

// Normalize splits p on '/' and '\', drops empty, "." and ".." segments and
// rejoins the rest with a single '/'. It never fails and is idempotent.
func Normalize(p string) string {
	parts := strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	kept := parts[:0]
	for _, part := range parts {
		if part == "." || part == ".." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, Separator)
}

// New normalizes project and path and validates the resulting key.
func New(project, path string) (Key, error) {
	p := Normalize(project)
	if p == "" {
		return Key{}, fmt.Errorf("%w: project name is required", interfaces.ErrInvalidKey)
	}
	if strings.Contains(p, Separator) {
		return Key{}, fmt.Errorf("%w: project name %q must be a single segment", interfaces.ErrInvalidKey, p)
	}
	sp := Normalize(path)
	if sp == "" {
		return Key{}, fmt.Errorf("%w: state path is required", interfaces.ErrInvalidKey)
	}
	if IsBackupKey(sp) {
		return Key{}, fmt.Errorf("%w: state path %q collides with a backup slot name", interfaces.ErrInvalidKey, sp)
	}
	return Key{Project: p, Path: sp}, nil
}

// String returns the storage key of the current state object.
func (k Key) String() string {
	return k.Project + Separator + k.Path
}

// LockKey returns the metadata identity of the key's lock record.
func (k Key) LockKey() interfaces.LockKey {
	return interfaces.LockKey{Project: k.Project, Name: k.Path}
}

// Backup returns the storage key of backup slot n.
func (k Key) Backup(n int) string {
	return BackupKey(k.String(), n)
}

// BackupKey returns the storage key of backup slot n of key.
func BackupKey(key string, n int) string {
	return key + "." + strconv.Itoa(n)
}

// IsBackupKey reports whether the last segment of key ends in ".<digits>".
func IsBackupKey(key string) bool {
	_, ok := BackupSlot(key)
	return ok
}

// BackupSlot returns the slot number encoded in a backup key.
func BackupSlot(key string) (int, bool) {
	last := key
	if i := strings.LastIndex(key, Separator); i >= 0 {
		last = key[i+1:]
	}
	dot := strings.LastIndexByte(last, '.')
	if dot < 0 || dot == len(last)-1 {
		return 0, false
	}
	digits := last[dot+1:]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
