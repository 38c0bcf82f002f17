// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package dex

import (
	"context"
	"sync"
)

// Runner is satisfied by long-running components that block in Run until the
// context is canceled.
type Runner interface {
	Run(ctx context.Context)
}

// StartStopWaiter wraps a Runner, providing the non-blocking Start and Stop
// methods, and the blocking WaitForShutdown method.
type StartStopWaiter struct {
	runner Runner
	wg     sync.WaitGroup
	mtx    sync.Mutex
	quit   context.CancelFunc
}

// NewStartStopWaiter creates a StartStopWaiter from a Runner.
func NewStartStopWaiter(runner Runner) *StartStopWaiter {
	return &StartStopWaiter{
		runner: runner,
	}
}

// Start launches the Runner in a goroutine. Start will return immediately. Use
// Stop to signal the Runner to stop, followed by WaitForShutdown to allow
// shutdown to complete.
func (ssw *StartStopWaiter) Start(ctx context.Context) {
	runCtx, quit := context.WithCancel(ctx)
	ssw.mtx.Lock()
	ssw.quit = quit
	ssw.mtx.Unlock()
	ssw.wg.Add(1)
	go func() {
		defer ssw.wg.Done()
		ssw.runner.Run(runCtx)
	}()
}

// WaitForShutdown blocks until the Runner has returned from Run.
func (ssw *StartStopWaiter) WaitForShutdown() {
	ssw.wg.Wait()
}

// Stop cancels the context.
func (ssw *StartStopWaiter) Stop() {
	ssw.mtx.Lock()
	defer ssw.mtx.Unlock()
	if ssw.quit != nil {
		ssw.quit()
	}
}
