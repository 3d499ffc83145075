package api

// Route prefixes.
const (
	PathPrefix = "/api/v1"
	StatesPath = PathPrefix + "/states"
	LockPath   = PathPrefix + "/lock"
	ConfigPath = PathPrefix + "/config"
)

// Custom lock methods sent by state clients configured with
// lock_method = "LOCK" and unlock_method = "UNLOCK".
const (
	MethodLock   = "LOCK"
	MethodUnlock = "UNLOCK"
)

// Query parameters.
const (
	// LockIDParam carries the lock ID on state writes.
	LockIDParam = "ID"

	// BackupParam selects a backup slot on state reads.
	BackupParam = "backup"

	// ExcludeBackupsParam drops backup slot keys from state listings.
	ExcludeBackupsParam = "exclude_backups"
)

// Plain-text and JSON response messages.
const (
	MsgStateNotFound       = "State not found"
	MsgStateUpdated        = "State updated successfully"
	MsgStateDeleted        = "State and all backups deleted successfully"
	MsgLockReleased        = "Lock released successfully"
	MsgLockNotFound        = "Lock not found"
	MsgLockIDMismatch      = "Lock ID mismatch"
	MsgConfigUpdated       = "Configuration updated successfully"
	MsgInvalidConfig       = "Invalid configuration"
	MsgInternalServerError = "Internal server error"
)

// MessageResponse is the body of successful lock releases.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the JSON error body of lock routes.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LockStatus is returned by lock inspection when the key is not locked.
type LockStatus struct {
	Locked bool `json:"locked"`
}

// Config is the body of the config routes.
type Config struct {
	MaxBackups int `json:"maxBackups"`
}

// ConfigUpdate is the body accepted by POST /config. MaxBackups is a pointer
// so that a missing field can be told apart from zero.
type ConfigUpdate struct {
	MaxBackups *int `json:"maxBackups"`
}
