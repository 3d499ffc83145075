package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/ruteri/tf-state-backend/api"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// StateClient talks to the state backend API. Requests are retried on
// connection errors and 5xx responses.
type StateClient struct {
	baseURL  string
	token    string
	username string
	password string
	client   *retryablehttp.Client
}

// ClientOption configures a StateClient.
type ClientOption func(*StateClient)

// WithBearerToken authenticates requests with a bearer token.
func WithBearerToken(token string) ClientOption {
	return func(c *StateClient) { c.token = token }
}

// WithBasicAuth authenticates requests with basic credentials.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *StateClient) {
		c.username = username
		c.password = password
	}
}

// WithRetries sets the retry policy.
func WithRetries(max int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *StateClient) {
		c.client.RetryMax = max
		c.client.RetryWaitMin = waitMin
		c.client.RetryWaitMax = waitMax
	}
}

// NewStateClient creates a client for the server at baseURL
// (e.g. "http://localhost:8080"). log receives retry diagnostics at debug level.
func NewStateClient(baseURL string, log *slog.Logger, opts ...ClientOption) *StateClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = retryLogger{log: log}

	c := &StateClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  rc,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryLogger adapts slog to retryablehttp.LeveledLogger.
type retryLogger struct {
	log *slog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Error(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debug(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Debug(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn(msg, kv...) }

func statePath(project, path string) string {
	return "/" + url.PathEscape(project) + "/" + escapePath(path)
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func (c *StateClient) do(ctx context.Context, method, target string, body []byte) (*http.Response, []byte, error) {
	var rawBody interface{}
	if body != nil {
		rawBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+target, rawBody)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	case c.username != "":
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s failed: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp, respBody, nil
}

func unexpectedStatus(what string, resp *http.Response, body []byte) error {
	return fmt.Errorf("%s failed with code %d: %s", what, resp.StatusCode, strings.TrimSpace(string(body)))
}

// ListStates returns the storage keys visible to the caller.
func (c *StateClient) ListStates(ctx context.Context, excludeBackups bool) ([]string, error) {
	target := api.StatesPath
	if excludeBackups {
		target += "?" + api.ExcludeBackupsParam + "=true"
	}

	resp, body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("list states", resp, body)
	}

	var keys []string
	if err := json.Unmarshal(body, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}
	return keys, nil
}

// GetState returns the current state object, or backup slot when slot > 0.
func (c *StateClient) GetState(ctx context.Context, project, path string, slot int) ([]byte, error) {
	target := api.StatesPath + statePath(project, path)
	if slot > 0 {
		target += "?" + api.BackupParam + "=" + strconv.Itoa(slot)
	}

	resp, body, err := c.do(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, fmt.Errorf("state %s/%s: %w", project, path, interfaces.ErrNotFound)
	default:
		return nil, unexpectedStatus("get state", resp, body)
	}
}

// PutState uploads a new state object. lockID is sent when not empty.
func (c *StateClient) PutState(ctx context.Context, project, path string, data []byte, lockID string) error {
	target := api.StatesPath + statePath(project, path)
	if lockID != "" {
		target += "?" + api.LockIDParam + "=" + url.QueryEscape(lockID)
	}

	resp, body, err := c.do(ctx, http.MethodPost, target, data)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusLocked:
		return lockConflict(body)
	default:
		return unexpectedStatus("put state", resp, body)
	}
}

// DeleteState removes a state object and its backups.
func (c *StateClient) DeleteState(ctx context.Context, project, path string) error {
	resp, body, err := c.do(ctx, http.MethodDelete, api.StatesPath+statePath(project, path), nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return unexpectedStatus("delete state", resp, body)
	}
	return nil
}

func lockConflict(body []byte) *interfaces.LockConflictError {
	existing, err := interfaces.UnmarshalLockInfo(body)
	if err != nil {
		return &interfaces.LockConflictError{}
	}
	return &interfaces.LockConflictError{Existing: existing}
}

// Lock acquires the lock of a state. A conflict is returned as
// *interfaces.LockConflictError. The client picks the lock ID when info has
// none, so a retried request that already succeeded is recognized.
func (c *StateClient) Lock(ctx context.Context, project, path string, info *interfaces.LockInfo) (*interfaces.LockInfo, error) {
	info = info.Clone()
	if info == nil {
		info = &interfaces.LockInfo{}
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}

	resp, body, err := c.do(ctx, api.MethodLock, api.LockPath+statePath(project, path), info.Marshal())
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return interfaces.UnmarshalLockInfo(body)
	case http.StatusLocked, http.StatusConflict:
		conflict := lockConflict(body)
		if conflict.Existing != nil && conflict.Existing.ID == info.ID {
			return conflict.Existing, nil
		}
		return nil, conflict
	default:
		return nil, unexpectedStatus("lock", resp, body)
	}
}

// Unlock releases the lock of a state. An empty id forces the release.
func (c *StateClient) Unlock(ctx context.Context, project, path, id string) error {
	payload, err := json.Marshal(struct {
		ID string `json:"ID,omitempty"`
	}{ID: id})
	if err != nil {
		return err
	}

	resp, body, err := c.do(ctx, api.MethodUnlock, api.LockPath+statePath(project, path), payload)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("lock %s/%s: %w", project, path, interfaces.ErrNotFound)
	case http.StatusBadRequest:
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error == api.MsgLockIDMismatch {
			return fmt.Errorf("lock %s/%s: %w", project, path, interfaces.ErrLockIDMismatch)
		}
		return unexpectedStatus("unlock", resp, body)
	default:
		return unexpectedStatus("unlock", resp, body)
	}
}

// GetLock returns the lock record of a state, or ErrNotFound when unlocked.
func (c *StateClient) GetLock(ctx context.Context, project, path string) (*interfaces.LockInfo, error) {
	resp, body, err := c.do(ctx, http.MethodGet, api.LockPath+statePath(project, path), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("get lock", resp, body)
	}

	var status struct {
		Locked *bool `json:"locked"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("failed to parse lock response: %w", err)
	}
	if status.Locked != nil && !*status.Locked {
		return nil, fmt.Errorf("lock %s/%s: %w", project, path, interfaces.ErrNotFound)
	}
	return interfaces.UnmarshalLockInfo(body)
}

// GetConfig returns the backup depth.
func (c *StateClient) GetConfig(ctx context.Context) (*api.Config, error) {
	resp, body, err := c.do(ctx, http.MethodGet, api.ConfigPath, nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unexpectedStatus("get config", resp, body)
	}

	var cfg api.Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config response: %w", err)
	}
	return &cfg, nil
}

// SetConfig updates the backup depth.
func (c *StateClient) SetConfig(ctx context.Context, maxBackups int) error {
	payload, err := json.Marshal(api.Config{MaxBackups: maxBackups})
	if err != nil {
		return err
	}

	resp, body, err := c.do(ctx, http.MethodPost, api.ConfigPath, payload)
	if err != nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return fmt.Errorf("%w: maxBackups=%d", interfaces.ErrInvalidConfig, maxBackups)
	default:
		return unexpectedStatus("set config", resp, body)
	}
}
