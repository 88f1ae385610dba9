/*
Package testcluster is an in-process multi-node harness for exercising
internal/cluster, internal/mux and internal/btree together, standing in
for spinning up separate processes the way a production deployment
would.
*/
package testcluster

import (
	"context"
	"fmt"
	"time"
)

// Waiter polls a condition on a fixed interval until it becomes true
// or a timeout elapses.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter builds a Waiter with an explicit timeout/interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter is a Waiter with sensible defaults for in-process,
// loopback-only tests, where conditions settle in milliseconds rather
// than the seconds a real multi-process cluster needs.
func DefaultWaiter() *Waiter {
	return NewWaiter(5*time.Second, 10*time.Millisecond)
}

// WaitFor blocks until condition returns true or the timeout elapses,
// returning an error naming description on timeout.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if condition() {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// PollUntil polls condition on interval until it's true or ctx ends.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	if condition() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
