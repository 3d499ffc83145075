// Package metrics exposes Prometheus counters for state and lock operations
// and serves them on a dedicated listener.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ruteri/tf-state-backend/interfaces"
)

// Result labels.
const (
	ResultSuccess  = "success"
	ResultNotFound = "not_found"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultError    = "error"
)

var (
	// Registry holds every collector of this package plus the Go and process collectors.
	Registry = prometheus.NewRegistry()

	stateOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tfstate_state_operations_total",
		Help: "State store operations by operation and result",
	}, []string{"op", "result"})

	lockOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tfstate_lock_operations_total",
		Help: "Lock coordinator operations by operation and result",
	}, []string{"op", "result"})

	rotationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tfstate_rotation_duration_seconds",
		Help:    "Duration of backup chain rotations",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		stateOperations,
		lockOperations,
		rotationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Result classifies err into a result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, interfaces.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, interfaces.ErrLockConflict), errors.Is(err, interfaces.ErrLockIDMismatch):
		return ResultConflict
	case errors.Is(err, interfaces.ErrInvalidKey), errors.Is(err, interfaces.ErrInvalidConfig):
		return ResultInvalid
	default:
		return ResultError
	}
}

// RecordStateOp counts one state store operation.
func RecordStateOp(op string, err error) {
	stateOperations.WithLabelValues(op, Result(err)).Inc()
}

// RecordLockOp counts one lock coordinator operation.
func RecordLockOp(op string, err error) {
	lockOperations.WithLabelValues(op, Result(err)).Inc()
}

// ObserveRotation records the duration of one rotation.
func ObserveRotation(d time.Duration, err error) {
	rotationDuration.WithLabelValues(Result(err)).Observe(d.Seconds())
}
