// Package errors defines the error kinds used across the cluster-coordination
// and query planes (spec.md §7), plus an AppError wrapper that carries an
// HTTP-equivalent status code for the administrative HTTP endpoints.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrStoreUnavailable means the call into the metadata store could not
	// complete because the session is disconnected. Recover by reconnect;
	// all watchers rearm automatically.
	ErrStoreUnavailable = errors.New("metadata store unavailable")
	// ErrStoreConflict means an optimistic write lost a revision race.
	// The caller should re-read and retry.
	ErrStoreConflict = errors.New("metadata store write conflict")
	// ErrShardOpenFailure means the Worker could not open a shard through
	// the index engine after exhausting its retry budget.
	ErrShardOpenFailure = errors.New("shard open failure")
	// ErrRPCTimeout means a Worker RPC did not complete within its budget.
	ErrRPCTimeout = errors.New("rpc timeout")
	// ErrShardUnavailable means no replica of a shard is OPEN anywhere;
	// the query cannot proceed.
	ErrShardUnavailable = errors.New("shard unavailable")
	// ErrMalformedQuery is returned to the caller unchanged, never retried.
	ErrMalformedQuery = errors.New("malformed query")
	// ErrDeployFailure means an index exhausted placement options and
	// entered DEPLOY_ERROR.
	ErrDeployFailure = errors.New("deploy failure")
	// ErrNotFound is a generic administrative not-found (e.g. removeIndex
	// of an absent name, listErrors for an unknown index).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals an idempotent no-op, e.g. addIndex of an
	// existing name.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput is returned for malformed administrative requests.
	ErrInvalidInput = errors.New("invalid input")
)

// AppError pairs a sentinel error with an operator-facing message and an
// HTTP-equivalent status code.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New wraps sentinel with a fixed message and status code.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{Err: sentinel, Message: message, StatusCode: statusCode}
}

// Newf wraps sentinel with a formatted message and status code.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{Err: sentinel, Message: fmt.Sprintf(format, args...), StatusCode: statusCode}
}

// HTTPStatusCode maps an error to the HTTP status code the admin HTTP
// endpoints should respond with.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformedQuery):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreConflict):
		return http.StatusConflict
	case errors.Is(err, ErrShardUnavailable), errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrRPCTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CLIExitCode maps an error to the CLI exit code conventions from spec.md
// §6: 0 success, 1 usage error, 2 operation failure.
func CLIExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, ErrInvalidInput) {
		return 1
	}
	return 2
}
