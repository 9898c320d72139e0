package comm

import (
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/internal/netstate"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// StopComm closes a comm handle: a RecvMess or WaitForConn registration
// or a connected socket. It returns true only for the call that did the
// close; unknown and already closed handles return false.
func (h *Host) StopComm(handle resource.Handle) bool {
	closed, err := h.closeHandle(handle)
	if err != nil {
		h.logger.Debug("close reported an error", zap.Uint64("handle", uint64(handle)), zap.Error(err))
	}
	return closed
}

func (h *Host) closeHandle(handle resource.Handle) (bool, error) {
	e, ok := h.resources.Get(handle)
	if !ok {
		return false, nil
	}
	switch e.Kind {
	case resource.KindMessageListener, resource.KindConnListener, resource.KindSocket:
	default:
		return false, nil
	}
	return e.Close(func() error {
		err := h.teardown(handle, e)
		h.resources.Remove(handle)
		return err
	})
}

// teardown runs under the entry's close lock.
func (h *Host) teardown(handle resource.Handle, e *resource.Entry) error {
	h.disp.unregister(handle)

	var (
		err   error
		proto netstate.Proto
	)
	switch v := e.Value.(type) {
	case *net.UDPConn:
		proto = netstate.UDP
		err = v.Close()
	case *net.TCPListener:
		proto = netstate.TCP
		err = v.Close()
	case *Socket:
		err = v.shutdown()
	}

	switch e.Direction {
	case resource.Inbound:
		h.nanny.ReleaseItem(nanny.InSockets, handle)
	case resource.Outbound:
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
	}

	if e.Direction == resource.Inbound {
		local, perr := netip.ParseAddrPort(e.Local)
		if perr == nil {
			h.dropListener(listenKey{proto: proto, local: local}, handle)
			h.awaitUnbound(proto, local)
		}
	}

	h.logger.Debug("comm handle closed",
		zap.Uint64("handle", uint64(handle)),
		zap.Stringer("kind", e.Kind),
	)
	return err
}

// awaitUnbound polls the socket table until local is no longer bound.
func (h *Host) awaitUnbound(proto netstate.Proto, local netip.AddrPort) {
	start := h.clock.Now()
	for {
		bound, err := h.probe.Listening(proto, local)
		if err != nil {
			h.logger.Warn("socket table probe failed", zap.Error(err))
			return
		}
		if !bound {
			return
		}
		if h.clock.Now().Sub(start) >= h.unbindTimeout {
			h.logger.Warn("endpoint still bound after close",
				zap.Stringer("local", local),
				zap.String("proto", string(proto)),
				zap.Duration("waited", h.unbindTimeout),
			)
			return
		}
		h.clock.Sleep(retryInterval)
	}
}
