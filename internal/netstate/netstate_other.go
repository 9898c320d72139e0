//go:build !linux

package netstate

import (
	"errors"
	"net"
	"net/netip"
	"syscall"
)

// systemProber falls back to a bind probe where no socket table is
// readable. It cannot see 4-tuples.
type systemProber struct{}

func (systemProber) Listening(proto Proto, local netip.AddrPort) (bool, error) {
	addr := local.String()
	var err error
	switch proto {
	case TCP:
		var l net.Listener
		if l, err = net.Listen("tcp", addr); err == nil {
			l.Close()
		}
	default:
		var c net.PacketConn
		if c, err = net.ListenPacket("udp", addr); err == nil {
			c.Close()
		}
	}
	if errors.Is(err, syscall.EADDRINUSE) {
		return true, nil
	}
	return false, nil
}

func (systemProber) Connection(netip.AddrPort, netip.AddrPort) (State, bool, error) {
	return StateUnknown, false, nil
}
