package comm

import (
	"context"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/netstate"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// datagramOverhead is charged on top of every datagram's payload.
const datagramOverhead = 64

// RecvMess registers cb to receive datagrams sent to localIP:localPort.
func (h *Host) RecvMess(localIP string, localPort int, cb MessageCallback) (resource.Handle, error) {
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
	if err := h.nanny.CheckItem(nanny.MessPort, localPort); err != nil {
		return 0, err
	}

	local := netip.AddrPortFrom(ip, uint16(localPort))
	key := listenKey{proto: netstate.UDP, local: local}

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

	pc, err := listenConfig.ListenPacket(context.Background(), "udp", local.String())
	if err != nil {
		h.nanny.ReleaseItem(nanny.InSockets, handle)
		h.dropListener(key, handle)
		h.resources.Discard(handle)
		return 0, mapNetError(err)
	}

	e := &resource.Entry{
		Kind:      resource.KindMessageListener,
		Direction: resource.Inbound,
		Value:     pc.(*net.UDPConn),
		Callback:  cb,
		Local:     local.String(),
	}
	if err := h.resources.Attach(handle, e); err != nil {
		pc.Close()
		h.nanny.ReleaseItem(nanny.InSockets, handle)
		h.dropListener(key, handle)
		return 0, err
	}
	if err := h.disp.register(handle, e); err != nil {
		h.closeHandle(handle)
		return 0, err
	}

	h.logger.Debug("recvmess registered", zap.Uint64("handle", uint64(handle)), zap.Stringer("local", local))
	return handle, nil
}

// SendMess sends one datagram and returns the number of payload bytes
// sent. When a RecvMess registration holds the local endpoint its
// socket is used, so replies come from the listening port.
func (h *Host) SendMess(ctx context.Context, destIP string, destPort int, msg []byte, localIP string, localPort int) (int, error) {
	dest, err := parseIP(destIP, "destination IP")
	if err != nil {
		return 0, err
	}
	if err := checkPort(destPort, "destination port", false); err != nil {
		return 0, err
	}
	local := netip.IPv4Unspecified()
	if localIP != "" {
		if local, err = parseIP(localIP, "local IP"); err != nil {
			return 0, err
		}
	}
	if err := checkPort(localPort, "local port", true); err != nil {
		return 0, err
	}
	if err := h.checkLocalIP(local); err != nil {
		return 0, err
	}
	if localPort != 0 {
		if err := h.nanny.CheckItem(nanny.MessPort, localPort); err != nil {
			return 0, err
		}
	}

	send, _ := transferResources(dest)
	if err := h.nanny.AdmitQuantity(send, 0); err != nil {
		return 0, err
	}

	to := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dest, uint16(destPort)))
	localEP := netip.AddrPortFrom(local, uint16(localPort))

	conn, release, err := h.datagramSocket(ctx, localEP)
	if err != nil {
		return 0, err
	}
	defer release()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(dl)
	}
	n, err := conn.WriteToUDP(msg, to)
	if n > 0 {
		if aerr := h.nanny.AdmitQuantity(send, float64(n+datagramOverhead)); aerr != nil {
			return n, aerr
		}
	}
	if err != nil {
		return n, mapNetError(err)
	}
	return n, nil
}

// datagramSocket returns the listener socket bound to local if there is
// one, otherwise a temporary socket closed by release.
func (h *Host) datagramSocket(ctx context.Context, local netip.AddrPort) (*net.UDPConn, func(), error) {
	if local.Port() != 0 {
		if handle, ok := h.listener(listenKey{proto: netstate.UDP, local: local}); ok {
			if e, ok := h.resources.GetKind(handle, resource.KindMessageListener); ok {
				return e.Value.(*net.UDPConn), func() {}, nil
			}
		}
	}
	pc, err := listenConfig.ListenPacket(ctx, "udp", local.String())
	if err != nil {
		return nil, nil, mapNetError(err)
	}
	return pc.(*net.UDPConn), func() { pc.Close() }, nil
}

func (h *Host) deliverMessage(d *dispatcher, r *registration) {
	conn := r.entry.Value.(*net.UDPConn)
	cb := r.entry.Callback.(MessageCallback)

	buf := make([]byte, maxDatagram)
	conn.SetReadDeadline(deadline())
	n, from, err := conn.ReadFromUDPAddrPort(buf)
	d.rearm(r)
	if err != nil {
		if !isTimeout(err) && !r.entry.Closed() {
			h.logger.Debug("recvmess read failed", zap.Uint64("handle", uint64(r.handle)), zap.Error(err))
		}
		return
	}

	_, recv := transferResources(from.Addr())
	if err := h.nanny.AdmitQuantity(recv, float64(n+datagramOverhead)); err != nil {
		return
	}
	cb(from.Addr().Unmap().String(), int(from.Port()), buf[:n:n], r.handle)
}
