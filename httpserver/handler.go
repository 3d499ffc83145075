package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/tf-state-backend/api"
	"github.com/ruteri/tf-state-backend/auth"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/lock"
	"github.com/ruteri/tf-state-backend/statekey"
	"github.com/ruteri/tf-state-backend/statestore"
)

// Handler serves the state, lock and config routes.
type Handler struct {
	states      *statestore.Store
	locks       *lock.Coordinator
	enforceLock bool
	maxBodySize int64
	log         *slog.Logger
}

// NewHandler creates a handler on top of the state store and lock coordinator.
// With enforceLock set, state writes to a locked key must carry the holder's ID.
func NewHandler(states *statestore.Store, locks *lock.Coordinator, enforceLock bool, log *slog.Logger) *Handler {
	return &Handler{
		states:      states,
		locks:       locks,
		enforceLock: enforceLock,
		maxBodySize: api.DefaultMaxBodySize,
		log:         log,
	}
}

// projectParam and pathParam read the {project} and wildcard parts of state and lock routes.
func projectParam(r *http.Request) string {
	return chi.URLParam(r, "project")
}

func pathParam(r *http.Request) string {
	return chi.URLParam(r, "*")
}

// HandleListStates returns every storage key as a JSON array. Callers scoped
// to one project only see that project's keys.
//
// URL format: GET /api/v1/states[?exclude_backups=true]
func (h *Handler) HandleListStates(w http.ResponseWriter, r *http.Request) {
	excludeBackups, _ := strconv.ParseBool(r.URL.Query().Get(api.ExcludeBackupsParam))

	keys, err := h.states.ListStates(r.Context(), !excludeBackups)
	if err != nil {
		h.log.Error("Failed to list states", "err", err)
		http.Error(w, "Error listing states", http.StatusInternalServerError)
		return
	}

	if id, ok := auth.FromContext(r.Context()); ok && !id.IsAdmin() {
		visible := keys[:0]
		for _, key := range keys {
			if strings.HasPrefix(key, id.Project+statekey.Separator) {
				visible = append(visible, key)
			}
		}
		keys = visible
	}

	writeJSON(w, h.log, http.StatusOK, keys)
}

// HandleGetState returns the current state object, or a backup slot when
// the backup query parameter is set.
//
// URL format: GET /api/v1/states/{project}/{path...}[?backup=N]
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	var (
		data []byte
		err  error
	)
	if raw := r.URL.Query().Get(api.BackupParam); raw != "" {
		slot, convErr := strconv.Atoi(raw)
		if convErr != nil {
			http.Error(w, "Invalid backup slot", http.StatusBadRequest)
			return
		}
		data, err = h.states.GetBackup(r.Context(), project, path, slot)
	} else {
		data, err = h.states.Get(r.Context(), project, path)
	}

	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrNotFound):
		http.Error(w, api.MsgStateNotFound, http.StatusNotFound)
		return
	case errors.Is(err, interfaces.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	default:
		h.log.Error("Failed to get state", "err", err, "project", project, "path", path)
		http.Error(w, "Error getting state", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandlePutState rotates the backup chain and stores the request body as the
// new current state.
//
// URL format: POST /api/v1/states/{project}/{path...}[?ID=lockID]
func (h *Handler) HandlePutState(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Error("Failed to read request body", "err", err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if h.enforceLock && !h.checkLockHolder(w, r, project, path) {
		return
	}

	err = h.states.Put(r.Context(), project, path, data)
	switch {
	case err == nil:
		h.log.Debug("State updated", "project", project, "path", path, "size", len(data))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, api.MsgStateUpdated)
	case errors.Is(err, interfaces.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("Failed to set state", "err", err, "project", project, "path", path)
		http.Error(w, "Error setting state", http.StatusInternalServerError)
	}
}

// checkLockHolder writes a 423 with the lock record and returns false when
// the key is locked and the request does not carry the holder's ID.
func (h *Handler) checkLockHolder(w http.ResponseWriter, r *http.Request, project, path string) bool {
	holder, err := h.locks.Inspect(r.Context(), project, path)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return true
	case errors.Is(err, interfaces.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	case err != nil:
		h.log.Error("Failed to check lock", "err", err, "project", project, "path", path)
		http.Error(w, "Error checking lock", http.StatusInternalServerError)
		return false
	}

	if r.URL.Query().Get(api.LockIDParam) == holder.ID {
		return true
	}

	h.log.Info("Rejected write to locked state",
		"project", project,
		"path", path,
		"holder_id", holder.ID,
		"request_id", r.URL.Query().Get(api.LockIDParam))
	writeJSON(w, h.log, http.StatusLocked, holder)
	return false
}

// HandleDeleteState removes the current state object and its backups.
//
// URL format: DELETE /api/v1/states/{project}/{path...}
func (h *Handler) HandleDeleteState(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	err := h.states.Delete(r.Context(), project, path)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, api.MsgStateDeleted)
	case errors.Is(err, interfaces.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("Failed to delete state", "err", err, "project", project, "path", path)
		http.Error(w, "Error deleting state", http.StatusInternalServerError)
	}
}

// decodeLockInfo reads an optional lock record body. Absent or malformed
// bodies yield an empty record.
func (h *Handler) decodeLockInfo(r *http.Request) *interfaces.LockInfo {
	info := &interfaces.LockInfo{}
	if r.Body == nil {
		return info
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize))
	if err != nil || len(body) == 0 {
		return info
	}
	if err := json.Unmarshal(body, info); err != nil {
		h.log.Debug("Ignoring malformed lock body", "err", err)
		return &interfaces.LockInfo{}
	}
	return info
}

// HandleLock acquires the lock of a state. On conflict the current holder is
// returned with 423 Locked.
//
// URL format: POST|LOCK /api/v1/lock/{project}/{path...}
func (h *Handler) HandleLock(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	acquired, err := h.locks.Acquire(r.Context(), project, path, h.decodeLockInfo(r))
	if err != nil {
		var conflict *interfaces.LockConflictError
		switch {
		case errors.As(err, &conflict):
			writeJSON(w, h.log, http.StatusLocked, conflict.Existing)
		case errors.Is(err, interfaces.ErrInvalidKey):
			writeJSON(w, h.log, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		default:
			h.log.Error("Failed to acquire lock", "err", err, "project", project, "path", path)
			writeJSON(w, h.log, http.StatusInternalServerError, api.ErrorResponse{Error: api.MsgInternalServerError})
		}
		return
	}

	writeJSON(w, h.log, http.StatusOK, acquired)
}

// HandleUnlock releases the lock of a state. The body may carry the ID of
// the lock to release; without it the lock is released unconditionally.
//
// URL format: DELETE|UNLOCK /api/v1/lock/{project}/{path...}
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	err := h.locks.Release(r.Context(), project, path, h.decodeLockInfo(r).ID)
	switch {
	case err == nil:
		writeJSON(w, h.log, http.StatusOK, api.MessageResponse{Message: api.MsgLockReleased})
	case errors.Is(err, interfaces.ErrNotFound):
		writeJSON(w, h.log, http.StatusNotFound, api.ErrorResponse{Error: api.MsgLockNotFound})
	case errors.Is(err, interfaces.ErrLockIDMismatch):
		writeJSON(w, h.log, http.StatusBadRequest, api.ErrorResponse{Error: api.MsgLockIDMismatch})
	case errors.Is(err, interfaces.ErrInvalidKey):
		writeJSON(w, h.log, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("Failed to release lock", "err", err, "project", project, "path", path)
		writeJSON(w, h.log, http.StatusInternalServerError, api.ErrorResponse{Error: api.MsgInternalServerError})
	}
}

// HandleGetLock returns the lock record, or {"locked":false}.
//
// URL format: GET /api/v1/lock/{project}/{path...}
func (h *Handler) HandleGetLock(w http.ResponseWriter, r *http.Request) {
	project, path := projectParam(r), pathParam(r)

	info, err := h.locks.Inspect(r.Context(), project, path)
	switch {
	case err == nil:
		writeJSON(w, h.log, http.StatusOK, info)
	case errors.Is(err, interfaces.ErrNotFound):
		writeJSON(w, h.log, http.StatusOK, api.LockStatus{Locked: false})
	case errors.Is(err, interfaces.ErrInvalidKey):
		writeJSON(w, h.log, http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
	default:
		h.log.Error("Failed to get lock", "err", err, "project", project, "path", path)
		writeJSON(w, h.log, http.StatusInternalServerError, api.ErrorResponse{Error: api.MsgInternalServerError})
	}
}

// HandleGetConfig returns the backup depth.
//
// URL format: GET /api/v1/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	n, err := h.states.MaxBackups(r.Context())
	if err != nil {
		h.log.Error("Failed to get config", "err", err)
		http.Error(w, api.MsgInternalServerError, http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.log, http.StatusOK, api.Config{MaxBackups: n})
}

// HandleSetConfig updates the backup depth. maxBackups must be a positive integer.
//
// URL format: POST /api/v1/config
func (h *Handler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var update api.ConfigUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxBodySize)).Decode(&update); err != nil || update.MaxBackups == nil {
		http.Error(w, api.MsgInvalidConfig, http.StatusBadRequest)
		return
	}

	err := h.states.SetMaxBackups(r.Context(), *update.MaxBackups)
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, api.MsgConfigUpdated)
	case errors.Is(err, interfaces.ErrInvalidConfig):
		http.Error(w, api.MsgInvalidConfig, http.StatusBadRequest)
	default:
		h.log.Error("Failed to set config", "err", err)
		http.Error(w, api.MsgInternalServerError, http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Failed to encode response", "err", err)
	}
}
