package comm

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/resource"
)

const (
	pollTimeout = 100 * time.Millisecond

	// readTimeout bounds a worker's read or accept after the poll
	// reported the socket ready.
	readTimeout = 100 * time.Millisecond

	maxDatagram = 65535
)

type eventToken uint64

type regState uint8

const (
	stateRegistered regState = iota
	stateFiring
)

type registration struct {
	handle resource.Handle
	entry  *resource.Entry
	fd     int
	state  regState
}

// dispatcher polls inbound registrations and hands ready sockets to
// workers. Its loop goroutine starts with the first registration and
// exits when the last one is removed.
type dispatcher struct {
	host *Host

	mu      sync.Mutex
	regs    map[resource.Handle]*registration
	running bool
	closed  bool
	rearmed chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup
	seq    atomic.Uint64
}

func newDispatcher(h *Host) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &dispatcher{
		host:    h,
		regs:    make(map[resource.Handle]*registration),
		rearmed: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *dispatcher) register(handle resource.Handle, e *resource.Entry) error {
	sc, ok := e.Value.(syscall.Conn)
	if !ok {
		return fmt.Errorf("comm: %T cannot be polled", e.Value)
	}
	fd, err := socketFD(sc)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("comm: dispatcher closed")
	}
	d.regs[handle] = &registration{handle: handle, entry: e, fd: fd}
	if !d.running {
		d.running = true
		d.loops.Add(1)
		go d.loop()
	}
	return nil
}

func (d *dispatcher) unregister(handle resource.Handle) {
	d.mu.Lock()
	delete(d.regs, handle)
	d.mu.Unlock()
}

func (d *dispatcher) registered(handle resource.Handle) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.regs[handle]
	return ok
}

// rearm moves a firing registration back to registered.
func (d *dispatcher) rearm(r *registration) {
	d.mu.Lock()
	r.state = stateRegistered
	d.mu.Unlock()
	select {
	case d.rearmed <- struct{}{}:
	default:
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()
	d.loops.Wait()
}

func (d *dispatcher) loop() {
	defer d.loops.Done()
	logger := d.host.logger

	logger.Debug("dispatcher started")
	defer logger.Debug("dispatcher stopped")

	for {
		d.mu.Lock()
		if d.closed || len(d.regs) == 0 {
			d.running = false
			d.mu.Unlock()
			return
		}
		var polled []*registration
		for _, r := range d.regs {
			if r.state == stateRegistered {
				polled = append(polled, r)
			}
		}
		d.mu.Unlock()

		if len(polled) == 0 {
			select {
			case <-d.rearmed:
			case <-time.After(pollTimeout):
			case <-d.ctx.Done():
			}
			continue
		}

		fds := make([]int, len(polled))
		for i, r := range polled {
			fds[i] = r.fd
		}
		ready, err := pollReadable(fds, pollTimeout)
		if err != nil {
			logger.Warn("poll failed", zap.Error(err))
			time.Sleep(pollTimeout)
			continue
		}
		for i, r := range polled {
			if ready[i] {
				d.fire(r)
			}
		}
	}
}

// fire delivers one event from a ready registration. It blocks until an
// events token is free.
func (d *dispatcher) fire(r *registration) {
	d.mu.Lock()
	if d.regs[r.handle] != r || r.state != stateRegistered {
		d.mu.Unlock()
		return
	}
	r.state = stateFiring
	d.mu.Unlock()

	token := eventToken(d.seq.Add(1))
	if err := d.host.pool.ReserveWait(d.ctx, token); err != nil {
		d.rearm(r)
		return
	}

	switch r.entry.Kind {
	case resource.KindMessageListener:
		d.host.pool.Go(token, fmt.Sprintf("recvmess-%d", r.handle), func() {
			d.host.deliverMessage(d, r)
		})
	case resource.KindConnListener:
		d.host.pool.Go(token, fmt.Sprintf("waitforconn-%d", r.handle), func() {
			d.host.deliverConnection(d, r)
		})
	default:
		d.host.pool.Release(token)
		d.rearm(r)
	}
}

func socketFD(sc syscall.Conn) (int, error) {
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	fd := -1
	if err := raw.Control(func(s uintptr) { fd = int(s) }); err != nil {
		return 0, err
	}
	return fd, nil
}

func deadline() time.Time { return time.Now().Add(readTimeout) }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
