// Package netstate asks the operating system about sockets on the host:
// whether a local endpoint is still bound, and whether a TCP 4-tuple is
// still present and in which state.
package netstate

import (
	"net/netip"
)

// State is a TCP socket state as numbered by the Linux kernel.
type State uint8

const (
	StateUnknown     State = 0x00
	StateEstablished State = 0x01
	StateSynSent     State = 0x02
	StateSynRecv     State = 0x03
	StateFinWait1    State = 0x04
	StateFinWait2    State = 0x05
	StateTimeWait    State = 0x06
	StateClose       State = 0x07
	StateCloseWait   State = 0x08
	StateLastAck     State = 0x09
	StateListen      State = 0x0A
	StateClosing     State = 0x0B
)

var stateNames = map[State]string{
	StateEstablished: "ESTABLISHED",
	StateSynSent:     "SYN_SENT",
	StateSynRecv:     "SYN_RECV",
	StateFinWait1:    "FIN_WAIT1",
	StateFinWait2:    "FIN_WAIT2",
	StateTimeWait:    "TIME_WAIT",
	StateClose:       "CLOSE",
	StateCloseWait:   "CLOSE_WAIT",
	StateLastAck:     "LAST_ACK",
	StateListen:      "LISTEN",
	StateClosing:     "CLOSING",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Live reports whether a connection in this state is still in use by
// some process, as opposed to being torn down by the kernel.
func (s State) Live() bool {
	return s == StateEstablished || s == StateCloseWait
}

// Proto is a transport protocol.
type Proto string

const (
	TCP Proto = "tcp"
	UDP Proto = "udp"
)

// Socket is one row of the kernel socket table.
type Socket struct {
	Local  netip.AddrPort
	Remote netip.AddrPort
	Proto  Proto
	State  State
}

// Prober answers questions about host sockets.
type Prober interface {
	// Listening reports whether a socket is still bound to the local
	// endpoint. For TCP only sockets in LISTEN count.
	Listening(proto Proto, local netip.AddrPort) (bool, error)

	// Connection reports whether a TCP socket exists on the 4-tuple and
	// its state.
	Connection(local, remote netip.AddrPort) (State, bool, error)
}

// System returns the Prober for the running host.
func System() Prober { return systemProber{} }

// matchAddr matches a or b being unspecified as a wildcard.
func matchAddr(a, b netip.Addr) bool {
	a, b = a.Unmap(), b.Unmap()
	return a == b || a.IsUnspecified() || b.IsUnspecified()
}

func matchEndpoint(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && matchAddr(a.Addr(), b.Addr())
}

// FindListening scans sockets for a bound local endpoint.
func FindListening(sockets []Socket, proto Proto, local netip.AddrPort) bool {
	for _, s := range sockets {
		if s.Proto != proto || !matchEndpoint(s.Local, local) {
			continue
		}
		if proto == TCP && s.State != StateListen {
			continue
		}
		return true
	}
	return false
}

// FindConnection scans sockets for a TCP 4-tuple.
func FindConnection(sockets []Socket, local, remote netip.AddrPort) (State, bool) {
	for _, s := range sockets {
		if s.Proto != TCP || s.State == StateListen {
			continue
		}
		if s.Local.Port() != local.Port() || s.Remote.Port() != remote.Port() {
			continue
		}
		if s.Local.Addr().Unmap() != local.Addr().Unmap() && !local.Addr().IsUnspecified() {
			continue
		}
		if s.Remote.Addr().Unmap() != remote.Addr().Unmap() {
			continue
		}
		return s.State, true
	}
	return StateUnknown, false
}
