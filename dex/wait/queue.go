// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package wait runs periodic checks for events that complete at an unknown
// time, such as a contract deployment being confirmed on the ledger.
package wait

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// TryDirective is the result of a Waiter's TryFunc.
type TryDirective bool

const (
	// TryAgain instructs the queue to check again later.
	TryAgain TryDirective = false
	// DontTryAgain instructs the queue to drop the Waiter.
	DontTryAgain TryDirective = true
)

// Waiter is a check to run until it succeeds or expires.
type Waiter struct {
	// Expiration is checked each time TryFunc returns TryAgain. Once passed,
	// ExpireFunc is run and the Waiter is dropped.
	Expiration time.Time
	// TryFunc is the check. It returns DontTryAgain when done.
	TryFunc func() TryDirective
	// ExpireFunc runs when the Waiter expires or the queue shuts down first.
	ExpireFunc func()
}

// The check interval starts at the fastest interval for fullSpeedTicks
// attempts, then grows linearly to the slowest interval at fullyTapered
// attempts.
const (
	fullSpeedTicks = 3
	fullyTapered   = 15
)

type queuedWaiter struct {
	*Waiter
	tick     int
	nextTick time.Time
}

// TaperingTickerQueue runs Waiters with a delay that grows from
// fastestInterval to slowestInterval as attempts fail.
type TaperingTickerQueue struct {
	fastestInterval time.Duration
	slowestInterval time.Duration
	queueWaiter     chan *queuedWaiter
}

// NewTaperingTickerQueue is a constructor for a TaperingTickerQueue.
func NewTaperingTickerQueue(fastestInterval, slowestInterval time.Duration) *TaperingTickerQueue {
	return &TaperingTickerQueue{
		fastestInterval: fastestInterval,
		slowestInterval: slowestInterval,
		queueWaiter:     make(chan *queuedWaiter, 16),
	}
}

// Wait queues the Waiter. The first check runs immediately in the Run
// goroutine, so Wait never blocks on TryFunc.
func (q *TaperingTickerQueue) Wait(w *Waiter) {
	if time.Now().After(w.Expiration) {
		log.Errorf("wait.TaperingTickerQueue: Waiter given expiration before present")
		return
	}
	q.queueWaiter <- &queuedWaiter{Waiter: w, nextTick: time.Now()}
}

// Run runs the queue until the context is canceled. Waiters still queued at
// shutdown have their ExpireFunc run.
func (q *TaperingTickerQueue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	runWaiter := func(w *queuedWaiter) {
		defer wg.Done()
		if w.TryFunc() == DontTryAgain {
			return
		}
		if w.Expiration.Before(time.Now()) {
			w.ExpireFunc()
			return
		}
		w.tick++
		w.nextTick = nextTick(w.tick, q.slowestInterval, q.fastestInterval, time.Now(), w.Expiration)
		select {
		case q.queueWaiter <- w:
		case <-ctx.Done():
			w.ExpireFunc()
		}
	}

	waiters := make([]*queuedWaiter, 0, 16)
	var timer *time.Timer
	for {
		var tick <-chan time.Time
		if len(waiters) > 0 {
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(time.Until(waiters[0].nextTick))
			tick = timer.C
		}

		select {
		case <-tick:
			w := waiters[0]
			waiters = waiters[1:]
			wg.Add(1)
			go runWaiter(w)

		case w := <-q.queueWaiter:
			if time.Until(w.nextTick) <= 0 {
				wg.Add(1)
				go runWaiter(w)
				continue
			}
			waiters = append(waiters, w)
			sort.Slice(waiters, func(i, j int) bool {
				return waiters[i].nextTick.Before(waiters[j].nextTick)
			})

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			for _, w := range waiters {
				w.ExpireFunc()
			}
			return
		}
	}
}

func nextTick(ticksPassed int, slowestInterval, fastestInterval time.Duration,
	now, expiration time.Time) time.Time {
	var next time.Time
	switch {
	case ticksPassed < fullSpeedTicks:
		next = now.Add(fastestInterval)
	case ticksPassed < fullyTapered:
		prog := float64(ticksPassed+1-fullSpeedTicks) / (fullyTapered - fullSpeedTicks)
		taper := float64(slowestInterval - fastestInterval)
		next = now.Add(fastestInterval + time.Duration(math.Round(prog*taper)))
	default:
		next = now.Add(slowestInterval)
	}
	if next.After(expiration) {
		return expiration
	}
	return next
}
