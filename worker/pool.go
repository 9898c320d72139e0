// Package worker runs guest callbacks on goroutines metered against the
// "events" resource. Each worker holds one events token for its whole
// life and gives it back when the callback returns.
package worker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

// ErrClosed is returned by reservations made after Close.
var ErrClosed = stderrors.New("worker pool closed")

type threadToken uint64

// Pool starts workers and tracks the events tokens they hold.
type Pool struct {
	nanny  *nanny.Nanny
	logger *zap.Logger

	mu       sync.Mutex
	released chan struct{}
	closed   bool
	done     chan struct{}

	wg   sync.WaitGroup
	seq  atomic.Uint64
	live atomic.Int64
	peak atomic.Int64
}

// New creates a pool drawing tokens from n.
func New(n *nanny.Nanny, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		nanny:    n,
		logger:   logger,
		released: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Reserve takes an events token without blocking. It fails with
// ResourceExhausted when every token is held.
func (p *Pool) Reserve(token any) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return p.nanny.AdmitItem(nanny.Events, token)
}

// ReserveWait takes an events token, waiting for a running worker to
// finish when every token is held.
func (p *Pool) ReserveWait(ctx context.Context, token any) error {
	for {
		p.mu.Lock()
		closed, released := p.closed, p.released
		p.mu.Unlock()
		if closed {
			return ErrClosed
		}

		err := p.nanny.AdmitItem(nanny.Events, token)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errors.ErrResourceExhausted) {
			return err
		}

		select {
		case <-released:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.done:
			return ErrClosed
		case <-p.nanny.Done():
			return ErrClosed
		}
	}
}

// Release returns an events token and wakes waiting reservations.
func (p *Pool) Release(token any) {
	p.nanny.ReleaseItem(nanny.Events, token)

	p.mu.Lock()
	close(p.released)
	p.released = make(chan struct{})
	p.mu.Unlock()
}

// Go runs fn on a worker holding the already reserved token. The token
// is released when fn returns. A panic in fn aborts the sandbox. After
// Close, fn is not run, the token is released and Go returns false.
func (p *Pool) Go(token any, name string, fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.Release(token)
		p.logger.Debug("worker not started, pool closed", zap.String("worker", name))
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	n := p.live.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	go func() {
		defer p.wg.Done()
		defer p.Release(token)
		defer p.live.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("uncaught exception in guest callback",
					zap.String("worker", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				p.nanny.Abort(errors.ExitGuestException, fmt.Errorf("%s: %v", name, r))
			}
		}()
		fn()
	}()
	return true
}

// Spawn reserves a token for a guest thread and runs fn on it.
func (p *Pool) Spawn(name string, fn func()) error {
	token := threadToken(p.seq.Add(1))
	if err := p.Reserve(token); err != nil {
		return err
	}
	if !p.Go(token, name, fn) {
		return ErrClosed
	}
	return nil
}

// Live returns the number of running workers.
func (p *Pool) Live() int { return int(p.live.Load()) }

// Peak returns the highest number of workers that ran at once.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Close rejects new reservations and waits for running workers until
// ctx is done.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		p.logger.Warn("workers still running at teardown", zap.Int("live", p.Live()))
		return ctx.Err()
	}
}
