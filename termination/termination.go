// Package termination turns process signals into clean shutdown.
package termination

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"
)

var ErrTerminated = errors.New("terminated")

// Handle blocks until the process is signalled or the context is cancelled.
// On a signal it waits delay before returning, giving load balancers time to
// drain the instance.
func Handle(ctx context.Context, delay time.Duration) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		}
		return ErrTerminated
	case <-ctx.Done():
		return nil
	}
}
