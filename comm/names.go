package comm

import (
	"context"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
)

// routeTarget is dialed, without sending anything, to learn which
// local address the default route uses.
const routeTarget = "8.8.8.8:53"

// GetHostByName resolves name to one IPv4 address. An IP literal is
// returned unchanged.
func (h *Host) GetHostByName(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.InvalidArgument(errors.PhaseComm, "host name is required")
	}
	if a, err := netip.ParseAddr(name); err == nil {
		return a.Unmap().String(), nil
	}

	addrs, err := h.resolver.LookupNetIP(ctx, "ip4", name)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errors.Wrap(errors.PhaseComm, errors.KindNetwork, err, "cannot resolve "+name)
	}
	if len(addrs) == 0 {
		return "", errors.New(errors.PhaseComm, errors.KindNetwork).Detail("no IPv4 address for %s", name).Build()
	}
	return addrs[0].Unmap().String(), nil
}

// GetMyIP returns the address guest code should advertise as its own:
// the first preferred local IP when WithLocalIPs was given, otherwise
// the source address of the default route.
func (h *Host) GetMyIP() (string, error) {
	for _, a := range h.preferred {
		if !a.IsUnspecified() {
			return a.String(), nil
		}
	}

	c, err := net.Dial("udp4", routeTarget)
	if err != nil {
		h.logger.Debug("route lookup failed", zap.Error(err))
		return "", errors.Wrap(errors.PhaseComm, errors.KindNetwork, err, "no network connectivity")
	}
	defer c.Close()
	a, ok := c.LocalAddr().(*net.UDPAddr)
	if !ok || a.IP.IsUnspecified() {
		return "", errors.New(errors.PhaseComm, errors.KindNetwork).Detail("no network connectivity").Build()
	}
	return a.AddrPort().Addr().Unmap().String(), nil
}
