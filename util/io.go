package util

import (
	"context"
	"sync"

	udperrors "udpterm/internal/errors"
)

// Race runs every fn concurrently and returns as soon as the first one
// finishes.  The shared context is then cancelled and stop (if not
// nil) is called to unblock losers parked in I/O that does not watch
// the context, such as a read on a PTY or socket.  Race waits for all
// of them before returning the winner's error.
func Race(ctx context.Context, stop func(), fns ...func(ctx context.Context) error) error {
	if len(fns) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan error, len(fns))

	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(ctx context.Context) error) {
			defer wg.Done()
			done <- fn(ctx)
		}(fn)
	}

	var first error
	select {
	case first = <-done:
	case <-ctx.Done():
		first = ctx.Err()
	}

	cancel()
	if stop != nil {
		stop()
	}
	wg.Wait()
	return first
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if udperrors.Is(err, context.Canceled) {
		return true
	}
	return udperrors.IsClosed(err)
}
