package interfaces

import (
	"encoding/json"
	"fmt"
)

// LockInfo is the lock record exchanged with state clients. Field names
// follow the HTTP backend wire format and must not be renamed.
type LockInfo struct {
	// ID is the opaque lock identifier, supplied by the client or generated by the server.
	ID string `json:"ID"`

	// Operation is the client operation holding the lock (plan, apply, ...).
	Operation string `json:"Operation"`

	// Info is extra human-readable information.
	Info string `json:"Info"`

	// Who identifies the lock holder, usually user@host.
	Who string `json:"Who"`

	// Version is the client version.
	Version string `json:"Version"`

	// Created is the lock creation timestamp (RFC 3339).
	Created string `json:"Created"`

	// Path is the fully-qualified logical key the lock protects.
	Path string `json:"Path"`
}

// Marshal returns the JSON encoding of the lock record.
func (l *LockInfo) Marshal() []byte {
	data, err := json.Marshal(l)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal lock info: %v", err))
	}
	return data
}

// UnmarshalLockInfo decodes a lock record.
func UnmarshalLockInfo(data []byte) (*LockInfo, error) {
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode lock info: %w", err)
	}
	return &info, nil
}

// Clone returns a copy of the lock record.
func (l *LockInfo) Clone() *LockInfo {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}
