package comm

import (
	"context"
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/netstate"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// Per-connection setup charges, in bytes.
const (
	connectSendCharge = 128
	connectRecvCharge = 64
)

// OpenConn connects to destIP:destPort and returns the socket. localIP
// and localPort are optional ("" and 0). The call gives up once timeout
// has elapsed, including time spent waiting for an earlier socket on
// the same 4-tuple to be torn down.
func (h *Host) OpenConn(ctx context.Context, destIP string, destPort int, localIP string, localPort int, timeout time.Duration) (*Socket, error) {
	dest, err := parseIP(destIP, "destination IP")
	if err != nil {
		return nil, err
	}
	if err := checkPort(destPort, "destination port", false); err != nil {
		return nil, err
	}
	local := netip.IPv4Unspecified()
	if localIP != "" {
		if local, err = parseIP(localIP, "local IP"); err != nil {
			return nil, err
		}
	}
	if err := checkPort(localPort, "local port", true); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseComm, "timeout must be positive, got %v", timeout)
	}
	if err := h.checkLocalIP(local); err != nil {
		return nil, err
	}
	if localPort != 0 {
		if err := h.nanny.CheckItem(nanny.ConnPort, localPort); err != nil {
			return nil, err
		}
	}

	start := h.clock.Now()
	remote := netip.AddrPortFrom(dest, uint16(destPort))
	localEP := netip.AddrPortFrom(local, uint16(localPort))

	if localPort != 0 {
		if err := h.awaitTupleClear(localEP, remote, start, timeout); err != nil {
			return nil, err
		}
	}

	send, recv := transferResources(dest)
	if err := h.nanny.AdmitQuantity(send, 0); err != nil {
		return nil, err
	}
	if err := h.nanny.AdmitQuantity(recv, 0); err != nil {
		return nil, err
	}

	handle, err := h.resources.Reserve()
	if err != nil {
		return nil, err
	}
	if err := h.nanny.AdmitItem(nanny.OutSockets, handle); err != nil {
		h.resources.Discard(handle)
		return nil, err
	}

	remaining := timeout - h.clock.Now().Sub(start)
	if remaining <= 0 {
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		h.resources.Discard(handle)
		return nil, errors.New(errors.PhaseComm, errors.KindTimeout).Detail("connection timed out").Build()
	}

	dialer := net.Dialer{Timeout: remaining, Control: reuseAddr}
	if localIP != "" || localPort != 0 {
		dialer.LocalAddr = net.TCPAddrFromAddrPort(localEP)
	}
	c, err := dialer.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		h.resources.Discard(handle)
		return nil, mapNetError(err)
	}
	conn := c.(*net.TCPConn)

	if err := h.chargeConnect(send, recv); err != nil {
		conn.Close()
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		h.resources.Discard(handle)
		return nil, err
	}

	sock, err := h.attachSocket(handle, conn)
	if err != nil {
		conn.Close()
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		return nil, err
	}
	return sock, nil
}

// awaitTupleClear waits for any socket on the 4-tuple to disappear. A
// live connection on it is reported as AddressInUse.
func (h *Host) awaitTupleClear(local, remote netip.AddrPort, start time.Time, timeout time.Duration) error {
	for {
		st, exists, err := h.probe.Connection(local, remote)
		if err != nil {
			h.logger.Warn("socket table probe failed", zap.Error(err))
			return nil
		}
		if !exists {
			return nil
		}
		if st.Live() {
			return errors.New(errors.PhaseComm, errors.KindAddressInUse).
				Detail("a %s socket already exists from %s to %s", st, local, remote).
				Build()
		}
		if h.clock.Now().Sub(start) >= timeout {
			return errors.New(errors.PhaseComm, errors.KindTimeout).
				Detail("timed out waiting for %s socket from %s to %s to clear", st, local, remote).
				Build()
		}
		h.clock.Sleep(retryInterval)
	}
}

// WaitForConn registers cb to receive connections accepted on
// localIP:localPort.
func (h *Host) WaitForConn(localIP string, localPort int, cb ConnectionCallback) (resource.Handle, error) {
	ip, err := parseIP(localIP, "local IP")
	if err != nil {
		return 0, err
	}
	if err := checkPort(localPort, "local port", false); err != nil {
		return 0, err
	}
	if cb == nil {
		return 0, errors.InvalidArgument(errors.PhaseComm, "callback is required")
	}
	if err := h.checkLocalIP(ip); err != nil {
		return 0, err
	}
	if err := h.nanny.CheckItem(nanny.ConnPort, localPort); err != nil {
		return 0, err
	}

	local := netip.AddrPortFrom(ip, uint16(localPort))
	key := listenKey{proto: netstate.TCP, local: local}

	handle, err := h.resources.Reserve()
	if err != nil {
		return 0, err
	}
	if err := h.claimListener(key, handle); err != nil {
		h.resources.Discard(handle)
		return 0, err
	}
	if err := h.nanny.AdmitItem(nanny.InSockets, handle); err != nil {
		h.dropListener(key, handle)
		h.resources.Discard(handle)
		return 0, err
	}

	ln, err := listenConfig.Listen(context.Background(), "tcp", local.String())
	if err != nil {
		h.nanny.ReleaseItem(nanny.InSockets, handle)
		h.dropListener(key, handle)
		h.resources.Discard(handle)
		return 0, mapNetError(err)
	}

	e := &resource.Entry{
		Kind:      resource.KindConnListener,
		Direction: resource.Inbound,
		Value:     ln.(*net.TCPListener),
		Callback:  cb,
		Local:     local.String(),
	}
	if err := h.resources.Attach(handle, e); err != nil {
		ln.Close()
		h.nanny.ReleaseItem(nanny.InSockets, handle)
		h.dropListener(key, handle)
		return 0, err
	}
	if err := h.disp.register(handle, e); err != nil {
		h.closeHandle(handle)
		return 0, err
	}

	h.logger.Debug("waitforconn registered", zap.Uint64("handle", uint64(handle)), zap.Stringer("local", local))
	return handle, nil
}

func (h *Host) deliverConnection(d *dispatcher, r *registration) {
	ln := r.entry.Value.(*net.TCPListener)
	cb := r.entry.Callback.(ConnectionCallback)

	ln.SetDeadline(deadline())
	conn, err := ln.AcceptTCP()
	d.rearm(r)
	if err != nil {
		if !isTimeout(err) && !r.entry.Closed() {
			h.logger.Debug("accept failed", zap.Uint64("handle", uint64(r.handle)), zap.Error(err))
		}
		return
	}

	handle, err := h.resources.Reserve()
	if err != nil {
		conn.Close()
		return
	}
	if err := h.nanny.AdmitItem(nanny.OutSockets, handle); err != nil {
		h.logger.Warn("dropping inbound connection",
			zap.Uint64("listener", uint64(r.handle)),
			zap.Stringer("remote", conn.RemoteAddr()),
			zap.Error(err),
		)
		conn.Close()
		h.resources.Discard(handle)
		return
	}

	remote := conn.RemoteAddr().(*net.TCPAddr).AddrPort()
	send, recv := transferResources(remote.Addr())
	if err := h.chargeConnect(recv, send); err != nil {
		h.logger.Warn("dropping inbound connection",
			zap.Uint64("listener", uint64(r.handle)),
			zap.Stringer("remote", remote),
			zap.Error(err),
		)
		conn.Close()
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		h.resources.Discard(handle)
		return
	}

	sock, err := h.attachSocket(handle, conn)
	if err != nil {
		conn.Close()
		h.nanny.ReleaseItem(nanny.OutSockets, handle)
		return
	}
	cb(remote.Addr().Unmap().String(), int(remote.Port()), sock, handle, r.handle)
}

// chargeConnect charges the handshake: syn is the resource the
// initiator's packets travel on, synack the one the replies travel on.
func (h *Host) chargeConnect(syn, synack nanny.Name) error {
	if err := h.nanny.AdmitQuantity(syn, connectSendCharge); err != nil {
		return err
	}
	return h.nanny.AdmitQuantity(synack, connectRecvCharge)
}

func (h *Host) attachSocket(handle resource.Handle, conn *net.TCPConn) (*Socket, error) {
	sock := newSocket(h, handle, conn)
	e := &resource.Entry{
		Kind:      resource.KindSocket,
		Direction: resource.Outbound,
		Value:     sock,
		Local:     sock.local.String(),
		Remote:    sock.remote.String(),
	}
	if err := h.resources.Attach(handle, e); err != nil {
		return nil, err
	}
	return sock, nil
}
