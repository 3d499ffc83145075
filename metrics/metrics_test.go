package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/tf-state-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{err: nil, expected: ResultSuccess},
		{err: fmt.Errorf("get: %w", interfaces.ErrNotFound), expected: ResultNotFound},
		{err: &interfaces.LockConflictError{}, expected: ResultConflict},
		{err: interfaces.ErrLockIDMismatch, expected: ResultConflict},
		{err: interfaces.ErrInvalidKey, expected: ResultInvalid},
		{err: interfaces.NewStoreError("put", "k", errors.New("boom")), expected: ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Result(tt.err))
		})
	}
}

func TestMetricsServer_Handler(t *testing.T) {
	RecordStateOp("test_get", interfaces.ErrNotFound)
	RecordLockOp("test_acquire", nil)
	ObserveRotation(10*time.Millisecond, nil)

	srv, err := New("127.0.0.1:0")
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `tfstate_state_operations_total{op="test_get",result="not_found"} 1`)
	assert.Contains(t, string(body), `tfstate_lock_operations_total{op="test_acquire",result="success"}`)
	assert.Contains(t, string(body), "tfstate_rotation_duration_seconds_bucket")
}
