package misc

import (
	"context"

	"github.com/wippyai/sandbox-runtime/errors"
)

// Lock is a mutual exclusion lock guest threads share. Unlike
// sync.Mutex it can be tried without blocking, released by a thread
// other than the holder, and reports a release of an unheld lock.
type Lock struct {
	held chan struct{}
}

// GetLock returns a new, unlocked lock.
func (h *Host) GetLock() *Lock {
	return &Lock{held: make(chan struct{}, 1)}
}

// Acquire takes the lock. With blocking false it returns at once,
// reporting whether the lock was taken.
func (l *Lock) Acquire(blocking bool) bool {
	if blocking {
		l.held <- struct{}{}
		return true
	}
	select {
	case l.held <- struct{}{}:
		return true
	default:
		return false
	}
}

// AcquireContext takes the lock, giving up when ctx is done.
func (l *Lock) AcquireContext(ctx context.Context) error {
	select {
	case l.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the lock. Releasing an unlocked lock is an error.
func (l *Lock) Release() error {
	select {
	case <-l.held:
		return nil
	default:
		return errors.InvalidArgument(errors.PhaseMisc, "release of an unlocked lock")
	}
}
