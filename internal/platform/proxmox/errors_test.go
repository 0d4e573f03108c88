package proxmox

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(errors.New("plain")))

	assert.True(t, IsNotFound(&NotFoundError{Kind: "template", Name: "x"}))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", &NotFoundError{Kind: "backup", Name: "y"})))

	assert.True(t, IsNotFound(&APIError{StatusCode: 404, Status: "404 Not Found"}))
	assert.True(t, IsNotFound(&APIError{StatusCode: 500, Reason: "VM 999 does not exist"}))
	assert.False(t, IsNotFound(&APIError{StatusCode: 500, Reason: "internal error"}))
}

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(&APIError{StatusCode: 500}))
	assert.True(t, IsRetryable(&APIError{StatusCode: 429}))
	assert.False(t, IsRetryable(&APIError{StatusCode: 400}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestTaskFailedError(t *testing.T) {
	t.Parallel()

	err := &TaskFailedError{UPID: "UPID:pve:0001:x", ExitStatus: "unable to clone"}
	assert.Contains(t, err.Error(), "UPID:pve:0001:x")
	assert.Contains(t, err.Error(), "unable to clone")
	assert.NotErrorIs(t, err, ErrWaitTimeout)
}
