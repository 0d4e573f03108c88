package proxmox

import (
	"context"
	"fmt"
	"time"

	"github.com/jcreedy/pvesandbox/internal/util/retry"
)

// Task polling starts fast and backs off: most quick operations (power
// toggles, config changes) finish within the first few polls, while long
// imports settle into one poll every five seconds.
const (
	pollInitial    = 100 * time.Millisecond
	pollMultiplier = 1.3
	pollMax        = 5 * time.Second
)

// waitConfig holds the status-read retry settings of one WaitTask call.
type waitConfig struct {
	retryAttempts int
	retryDelay    time.Duration
}

// WaitOption tunes a WaitTask call.
type WaitOption func(*waitConfig)

// WithStatusRetries sets how many times a failed status read is retried and
// the initial delay between retries. Callers normally feed this from the
// session's timeout settings.
func WithStatusRetries(attempts int, delay time.Duration) WaitOption {
	return func(c *waitConfig) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// WaitTask polls a task until it reaches a terminal state or the timeout
// elapses. A failed task returns *TaskFailedError carrying the remote exit
// status; an elapsed timeout returns an error wrapping ErrWaitTimeout.
//
// Transient status-read failures are retried with backoff before giving up,
// since polling is an idempotent read.
func WaitTask(ctx context.Context, tr TaskReader, upid UPID, timeout time.Duration, opts ...WaitOption) error {
	wc := waitConfig{retryAttempts: 2, retryDelay: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&wc)
	}

	deadline := time.Now().Add(timeout)
	interval := pollInitial

	for {
		var st *TaskStatus
		err := retry.WithExponentialBackoff(ctx, func() error {
			var rerr error
			st, rerr = tr.TaskStatus(ctx, upid)
			if rerr != nil && !IsRetryable(rerr) {
				return retry.Fatal(rerr)
			}
			return rerr
		}, retry.WithMaxRetries(wc.retryAttempts), retry.WithInitialDelay(wc.retryDelay))
		if err != nil {
			return fmt.Errorf("reading status of task %s: %w", upid, err)
		}

		if st.Finished() {
			if st.OK() {
				return nil
			}
			return &TaskFailedError{UPID: upid, ExitStatus: st.ExitStatus}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("task %s: %w", upid, ErrWaitTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			interval = time.Duration(float64(interval) * pollMultiplier)
			if interval > pollMax {
				interval = pollMax
			}
		}
	}
}
