//go:build linux

package netstate

import (
	"net/netip"
	"os"
)

type systemProber struct{}

func readTables(proto Proto) ([]Socket, error) {
	var all []Socket
	for _, suffix := range []string{"", "6"} {
		f, err := os.Open("/proc/net/" + string(proto) + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		sockets, err := ParseProcNet(f, proto)
		f.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, sockets...)
	}
	return all, nil
}

func (systemProber) Listening(proto Proto, local netip.AddrPort) (bool, error) {
	sockets, err := readTables(proto)
	if err != nil {
		return false, err
	}
	return FindListening(sockets, proto, local), nil
}

func (systemProber) Connection(local, remote netip.AddrPort) (State, bool, error) {
	sockets, err := readTables(TCP)
	if err != nil {
		return StateUnknown, false, err
	}
	st, ok := FindConnection(sockets, local, remote)
	return st, ok, nil
}
