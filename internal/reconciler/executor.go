package reconciler

import (
	"context"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"steward/pkg/logging"
)

// Unit is one dispatch handed to the executor.
type Unit struct {
	ID ResourceID

	// Begin is called once a worker is available. It returns the scope to
	// dispatch, or false when the unit became obsolete while waiting.
	Begin func() (ExecutionScope, bool)

	// Dispatch processes the scope.
	Dispatch func(ctx context.Context, scope ExecutionScope) DispatchControl

	// Finish receives the control of every dispatch that began, including
	// dispatches that panicked.
	Finish func(scope ExecutionScope, control DispatchControl)

	// Abandon is called instead of Begin when ctx ends while the unit waits
	// for a worker. Optional.
	Abandon func()
}

// Executor runs units on independent goroutines.
//
// With a positive worker count, units wait for a slot on a FIFO semaphore.
// Units only reach the executor when their identity is free, so waiting is
// ordered by identity availability rather than by event arrival.
type Executor struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewExecutor creates an executor. workers <= 0 means unbounded.
func NewExecutor(workers int) *Executor {
	e := &Executor{}
	if workers > 0 {
		e.sem = semaphore.NewWeighted(int64(workers))
	}
	return e
}

// Run starts u. It never blocks the caller.
func (e *Executor) Run(ctx context.Context, u Unit) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if e.sem != nil {
			if err := e.sem.Acquire(ctx, 1); err != nil {
				logging.Debug("Executor", "Dropping dispatch for %s: %v", u.ID, err)
				if u.Abandon != nil {
					u.Abandon()
				}
				return
			}
			defer e.sem.Release(1)
		}

		scope, ok := u.Begin()
		if !ok {
			return
		}
		u.Finish(scope, e.dispatch(ctx, u, scope))
	}()
}

// dispatch runs u.Dispatch and converts a panic into a failed control.
func (e *Executor) dispatch(ctx context.Context, u Unit, scope ExecutionScope) (control DispatchControl) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{ID: scope.ID, Value: r, Stack: debug.Stack()}
			logging.Error("Executor", err, "Recovered panic while dispatching %s", scope.ID)
			control = Failed(err, scope.Attempt+1)
		}
	}()
	return u.Dispatch(ctx, scope)
}

// Wait blocks until every started unit has finished.
func (e *Executor) Wait() {
	e.wg.Wait()
}
