// Package ready provides a one-shot readiness signal with a bounded wait.
package ready

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the signal is not settled in time.
var ErrTimeout = errors.New("readiness timeout")

// Signal is settled exactly once, either resolved or rejected.
// The first call to Resolve or Reject wins; later calls are ignored.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New creates an unsettled signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve marks the signal ready.
func (s *Signal) Resolve() {
	s.settle(nil)
}

// Reject marks the signal failed with err.
func (s *Signal) Reject(err error) {
	if err == nil {
		err = errors.New("rejected")
	}
	s.settle(err)
}

func (s *Signal) settle(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Done is closed once the signal is settled.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Err returns the rejection error, or nil if resolved or still pending.
func (s *Signal) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the signal settles, the timeout elapses or ctx ends.
// A non-positive timeout waits on ctx only.
func (s *Signal) Wait(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return ctx.Err()
	}
}
