// Package async provides utilities for parallel task execution.
//
// This package contains generic helpers for running multiple operations
// concurrently and collecting their errors. It is used for parallel VM
// provisioning and other concurrent workflows.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

// RunParallel executes multiple tasks in parallel and returns the joined
// errors of every task that failed, each prefixed with its task name. All
// tasks are started concurrently, and the function waits for all to
// complete. A failing task does not cancel its siblings; everything started
// runs to completion.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "vm-0", Func: p.provisionVM0},
//	    {Name: "vm-1", Func: p.provisionVM1},
//	}
//	if err := RunParallel(ctx, tasks); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			if err := task.Func(ctx); err != nil {
				err = fmt.Errorf("%s: %w", task.Name, err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return err
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}
