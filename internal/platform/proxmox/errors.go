package proxmox

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrWaitTimeout is returned when a task does not reach a terminal state
// within its timeout. Distinct from TaskFailedError: the task may still be
// running remotely.
var ErrWaitTimeout = errors.New("timed out waiting for task")

// APIError is a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Status     string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api error: %s: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("api error: %s", e.Status)
}

// TaskFailedError is a task that reached a terminal state with a non-OK
// exit status.
type TaskFailedError struct {
	UPID       UPID
	ExitStatus string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s failed: %s", e.UPID, e.ExitStatus)
}

// NotFoundError is a named resource that could not be resolved.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// IsNotFound reports whether err indicates a missing resource, either a
// local NotFoundError or a 404/"does not exist" response from the platform.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusNotFound {
			return true
		}
		return strings.Contains(apiErr.Reason, "does not exist")
	}
	return false
}

// IsRetryable reports whether err is worth retrying for an idempotent read.
// Mutating calls are never retried through this check.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}
