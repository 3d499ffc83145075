package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ruteri/tf-state-backend/api"
	"github.com/ruteri/tf-state-backend/auth"
	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/ruteri/tf-state-backend/lock"
	"github.com/ruteri/tf-state-backend/metadata"
	"github.com/ruteri/tf-state-backend/statestore"
	"github.com/ruteri/tf-state-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router http.Handler
	blobs  interfaces.BlobStore
	meta   interfaces.MetadataStore
	server *Server
}

type envOption func(*envConfig)

type envConfig struct {
	enforceLock bool
	authn       *auth.Authenticator
	wrapBlobs   func(interfaces.BlobStore) interfaces.BlobStore
}

func withEnforceLock() envOption {
	return func(c *envConfig) { c.enforceLock = true }
}

func withAuth(a *auth.Authenticator) envOption {
	return func(c *envConfig) { c.authn = a }
}

func withBlobs(wrap func(interfaces.BlobStore) interfaces.BlobStore) envOption {
	return func(c *envConfig) { c.wrapBlobs = wrap }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := envConfig{authn: auth.New("", nil, logger)}
	for _, opt := range opts {
		opt(&cfg)
	}

	var blobs interfaces.BlobStore = storage.NewMemoryBackend("test", logger)
	if cfg.wrapBlobs != nil {
		blobs = cfg.wrapBlobs(blobs)
	}
	meta := metadata.NewMemoryStore("test", logger)

	handler := NewHandler(
		statestore.New(blobs, meta, logger),
		lock.NewCoordinator(meta, logger),
		cfg.enforceLock,
		logger,
	)

	srv, err := New(&api.HTTPServerConfig{Log: logger}, handler, cfg.authn)
	require.NoError(t, err)

	return &testEnv{
		router: srv.getRouter(),
		blobs:  blobs,
		meta:   meta,
		server: srv,
	}
}

func (e *testEnv) do(t *testing.T, method, target, body string, setup ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for _, fn := range setup {
		fn(req)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeLock(t *testing.T, w *httptest.ResponseRecorder) interfaces.LockInfo {
	t.Helper()
	var info interfaces.LockInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info), w.Body.String())
	return info
}

func TestStateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	const target = "/api/v1/states/infra/prod/network"

	w := env.do(t, http.MethodGet, target, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, api.MsgStateNotFound, strings.TrimSpace(w.Body.String()))

	w = env.do(t, http.MethodPost, target, `{"serial":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, api.MsgStateUpdated, w.Body.String())

	w = env.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"serial":1}`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = env.do(t, http.MethodPost, target, `{"serial":2}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, target+"?backup=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"serial":1}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/states", "")
	require.Equal(t, http.StatusOK, w.Code)
	var keys []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	assert.Equal(t, []string{"infra/prod/network", "infra/prod/network.1"}, keys)

	w = env.do(t, http.MethodGet, "/api/v1/states?exclude_backups=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &keys))
	assert.Equal(t, []string{"infra/prod/network"}, keys)

	w = env.do(t, http.MethodDelete, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.MsgStateDeleted, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/states", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestGetState_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name         string
		method       string
		target       string
		expectedCode int
	}{
		{name: "backup not a number", method: http.MethodGet, target: "/api/v1/states/infra/prod?backup=x", expectedCode: http.StatusBadRequest},
		{name: "backup out of range", method: http.MethodGet, target: "/api/v1/states/infra/prod?backup=9", expectedCode: http.StatusBadRequest},
		{name: "missing path", method: http.MethodGet, target: "/api/v1/states/infra/", expectedCode: http.StatusBadRequest},
		{name: "write backup slot", method: http.MethodPost, target: "/api/v1/states/infra/prod.1", expectedCode: http.StatusBadRequest},
		{name: "traversal only", method: http.MethodPost, target: "/api/v1/states/infra/../..", expectedCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.target, "x")
			assert.Equal(t, tt.expectedCode, w.Code, w.Body.String())
		})
	}
}

func TestLockScenario(t *testing.T) {
	env := newTestEnv(t)
	const target = "/api/v1/lock/infra/prod"

	w := env.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"locked":false}`, w.Body.String())

	w = env.do(t, api.MethodLock, target, `{"ID":"L1","Operation":"OperationTypeApply","Who":"alice@laptop"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acquired := decodeLock(t, w)
	assert.Equal(t, "L1", acquired.ID)
	assert.Equal(t, "infra/prod", acquired.Path)
	assert.NotEmpty(t, acquired.Created)

	w = env.do(t, http.MethodPost, target, `{"ID":"L2","Who":"bob@ci"}`)
	require.Equal(t, http.StatusLocked, w.Code)
	holder := decodeLock(t, w)
	assert.Equal(t, "L1", holder.ID)
	assert.Equal(t, "alice@laptop", holder.Who)

	w = env.do(t, api.MethodUnlock, target, `{"ID":"L2"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Lock ID mismatch"}`, w.Body.String())

	w = env.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "L1", decodeLock(t, w).ID)

	w = env.do(t, api.MethodUnlock, target, `{"ID":"L1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Lock released successfully"}`, w.Body.String())

	w = env.do(t, http.MethodDelete, target, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Lock not found"}`, w.Body.String())

	w = env.do(t, api.MethodLock, target, `{"ID":"L2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "L2", decodeLock(t, w).ID)
}

func TestLock_OptionalBody(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{"", "not json"} {
		w := env.do(t, http.MethodPost, "/api/v1/lock/infra/prod", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		acquired := decodeLock(t, w)
		assert.NotEmpty(t, acquired.ID)
		assert.Equal(t, "infra/prod", acquired.Path)

		// Forced release without an ID
		w = env.do(t, http.MethodDelete, "/api/v1/lock/infra/prod", "")
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestEnforceLock(t *testing.T) {
	env := newTestEnv(t, withEnforceLock())
	const state = "/api/v1/states/infra/prod"

	// Unlocked keys accept writes
	w := env.do(t, http.MethodPost, state, "v1")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, api.MethodLock, "/api/v1/lock/infra/prod", `{"ID":"L1"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, state, "v2")
	assert.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "L1", decodeLock(t, w).ID)

	w = env.do(t, http.MethodPost, state+"?ID=L2", "v2")
	assert.Equal(t, http.StatusLocked, w.Code)

	w = env.do(t, http.MethodPost, state+"?ID=L1", "v2")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, state, "")
	assert.Equal(t, "v2", w.Body.String())
}

func TestConfigRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"maxBackups":3}`, w.Body.String())

	for _, body := range []string{`{"maxBackups":0}`, `{"maxBackups":-1}`, `{"maxBackups":2.5}`, `{"maxBackups":"4"}`, `{}`, `nope`} {
		w = env.do(t, http.MethodPost, "/api/v1/config", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}

	w = env.do(t, http.MethodPost, "/api/v1/config", `{"maxBackups":5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, api.MsgConfigUpdated, w.Body.String())

	n, err := env.meta.GetMaxBackups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAuthScoping(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hash, err := auth.HashPassword("pw")
	require.NoError(t, err)
	authn := auth.New("root-token", map[string]auth.Credential{
		"ci": {Username: "ci", PasswordHash: hash, Project: "infra"},
	}, logger)

	env := newTestEnv(t, withAuth(authn))
	asAdmin := func(r *http.Request) { r.Header.Set("Authorization", "Bearer root-token") }
	asCI := func(r *http.Request) { r.SetBasicAuth("ci", "pw") }

	w := env.do(t, http.MethodGet, "/api/v1/states", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/states/infra/prod", "i", asAdmin).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/v1/states/apps/web", "a", asAdmin).Code)

	w = env.do(t, http.MethodGet, "/api/v1/states/infra/prod", "", asCI)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/states/apps/web", "", asCI)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, api.MethodLock, "/api/v1/lock/apps/web", "", asCI)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/states", "", asCI)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["infra/prod"]`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/states", "", asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["apps/web","infra/prod"]`, w.Body.String())

	w = env.do(t, http.MethodGet, "/api/v1/config", "", asCI)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/config", "", asAdmin)
	assert.Equal(t, http.StatusOK, w.Code)

	// Health endpoints are not gated
	w = env.do(t, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

// brokenStore fails every write to backup slots.
type brokenStore struct {
	interfaces.BlobStore
}

func (b *brokenStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasSuffix(key, ".1") {
		return errors.New("disk full")
	}
	return b.BlobStore.Put(ctx, key, data)
}

func TestPutState_RotationFailure(t *testing.T) {
	env := newTestEnv(t, withBlobs(func(b interfaces.BlobStore) interfaces.BlobStore {
		return &brokenStore{BlobStore: b}
	}))
	const target = "/api/v1/states/infra/prod"

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, target, "v1").Code)

	w := env.do(t, http.MethodPost, target, "v2")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = env.do(t, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Body.String())
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/drain", "")
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/drain", "")
	assert.JSONEq(t, `{"status":"already draining"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/undrain", "")
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())

	w = env.do(t, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
