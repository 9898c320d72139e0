// Package timer implements the sandbox's timer calls and guest threads.
// A pending timer holds one "events" token from SetTimer until its
// callback returns or it is cancelled.
package timer

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
	"github.com/wippyai/sandbox-runtime/worker"
)

// Callback is a guest timer callback.
type Callback func(args ...any)

const (
	statePending int32 = iota
	stateFired
	stateCancelled
)

type timerToken resource.Handle

type entry struct {
	handle resource.Handle
	state  atomic.Int32
	timer  atomic.Pointer[clock.Timer]
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host implements the timer calls of one sandbox.
type Host struct {
	nanny     *nanny.Nanny
	resources *resource.UnifiedTable
	pool      *worker.Pool
	clock     clock.Clock
	logger    *zap.Logger
}

// NewHost creates the timer host.
func NewHost(n *nanny.Nanny, resources *resource.UnifiedTable, pool *worker.Pool, opts ...Option) *Host {
	h := &Host{
		nanny:     n,
		resources: resources,
		pool:      pool,
		clock:     n.Clock(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetTimer runs cb(args...) on a worker once delay has passed.
func (h *Host) SetTimer(delay time.Duration, cb Callback, args ...any) (resource.Handle, error) {
	if delay < 0 {
		return 0, errors.InvalidArgument(errors.PhaseTimer, "negative delay %v", delay)
	}
	if cb == nil {
		return 0, errors.InvalidArgument(errors.PhaseTimer, "callback is required")
	}

	handle, err := h.resources.Reserve()
	if err != nil {
		return 0, err
	}
	token := timerToken(handle)
	if err := h.pool.Reserve(token); err != nil {
		h.resources.Discard(handle)
		return 0, err
	}

	t := &entry{handle: handle}
	if err := h.resources.Attach(handle, &resource.Entry{Kind: resource.KindTimer, Value: t}); err != nil {
		h.pool.Release(token)
		return 0, err
	}

	t.timer.Store(h.clock.AfterFunc(delay, func() {
		if !t.state.CompareAndSwap(statePending, stateFired) {
			return
		}
		h.resources.Remove(handle)
		h.pool.Go(token, fmt.Sprintf("timer-%d", handle), func() { cb(args...) })
	}))

	h.logger.Debug("timer set", zap.Uint64("handle", uint64(handle)), zap.Duration("delay", delay))
	return handle, nil
}

// CancelTimer stops a pending timer. It returns false if the handle is
// unknown or the timer already fired or was cancelled.
func (h *Host) CancelTimer(handle resource.Handle) bool {
	e, ok := h.resources.GetKind(handle, resource.KindTimer)
	if !ok {
		return false
	}
	t := e.Value.(*entry)
	if !t.state.CompareAndSwap(statePending, stateCancelled) {
		return false
	}
	if ct := t.timer.Load(); ct != nil {
		ct.Stop()
	}
	h.pool.Release(timerToken(handle))
	h.resources.Remove(handle)

	h.logger.Debug("timer cancelled", zap.Uint64("handle", uint64(handle)))
	return true
}

// Sleep blocks for at least d.
func (h *Host) Sleep(d time.Duration) error {
	if d < 0 {
		return errors.InvalidArgument(errors.PhaseTimer, "negative sleep %v", d)
	}
	start := h.clock.Now()
	for {
		left := d - h.clock.Now().Sub(start)
		if left <= 0 {
			return nil
		}
		h.clock.Sleep(left)
	}
}

// CreateThread runs fn on a new worker. The thread holds an "events"
// token until fn returns.
func (h *Host) CreateThread(fn func()) error {
	if fn == nil {
		return errors.InvalidArgument(errors.PhaseTimer, "thread function is required")
	}
	return h.pool.Spawn("thread", fn)
}

// Close cancels every pending timer.
func (h *Host) Close() {
	for _, handle := range h.resources.Handles(resource.KindTimer) {
		h.CancelTimer(handle)
	}
}
