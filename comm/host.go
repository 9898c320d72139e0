package comm

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/sandbox-runtime/clock"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/netstate"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
	"github.com/wippyai/sandbox-runtime/worker"
)

const (
	// retryInterval is how often socket-table probes are repeated.
	retryInterval = 200 * time.Millisecond

	defaultUnbindTimeout = 10 * time.Second
)

// MessageCallback receives one datagram delivered to a RecvMess
// registration.
type MessageCallback func(remoteIP string, remotePort int, msg []byte, h resource.Handle)

// ConnectionCallback receives one connection accepted by a WaitForConn
// registration. h is the handle of the new socket and listener the
// handle of the registration.
type ConnectionCallback func(remoteIP string, remotePort int, sock *Socket, h, listener resource.Handle)

type listenKey struct {
	proto netstate.Proto
	local netip.AddrPort
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithProber replaces the operating system socket probe.
func WithProber(p netstate.Prober) Option {
	return func(h *Host) { h.probe = p }
}

// WithLocalIPs restricts the local addresses guest code may bind. With
// no list every address is allowed.
func WithLocalIPs(ips ...string) Option {
	return func(h *Host) {
		for _, s := range ips {
			a, err := netip.ParseAddr(s)
			if err != nil {
				continue
			}
			if _, dup := h.localIPs[a.Unmap()]; !dup {
				h.localIPs[a.Unmap()] = struct{}{}
				h.preferred = append(h.preferred, a.Unmap())
			}
		}
	}
}

// WithUnbindTimeout bounds how long closing a listener waits for the
// operating system to release its endpoint.
func WithUnbindTimeout(d time.Duration) Option {
	return func(h *Host) { h.unbindTimeout = d }
}

// WithResolver replaces the resolver used by GetHostByName.
func WithResolver(r *net.Resolver) Option {
	return func(h *Host) { h.resolver = r }
}

// Host implements the comm emulation calls of one sandbox.
type Host struct {
	nanny     *nanny.Nanny
	resources *resource.UnifiedTable
	pool      *worker.Pool
	clock     clock.Clock
	probe     netstate.Prober
	logger    *zap.Logger
	localIPs  map[netip.Addr]struct{}
	preferred []netip.Addr
	resolver  *net.Resolver

	unbindTimeout time.Duration

	mu        sync.Mutex
	listeners map[listenKey]resource.Handle

	disp *dispatcher
}

// NewHost creates the comm host.
func NewHost(n *nanny.Nanny, resources *resource.UnifiedTable, pool *worker.Pool, opts ...Option) *Host {
	h := &Host{
		nanny:         n,
		resources:     resources,
		pool:          pool,
		clock:         n.Clock(),
		probe:         netstate.System(),
		logger:        zap.NewNop(),
		localIPs:      make(map[netip.Addr]struct{}),
		resolver:      net.DefaultResolver,
		unbindTimeout: defaultUnbindTimeout,
		listeners:     make(map[listenKey]resource.Handle),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.disp = newDispatcher(h)
	return h
}

// Socket returns the connected socket behind a handle.
func (h *Host) Socket(handle resource.Handle) (*Socket, bool) {
	e, ok := h.resources.GetKind(handle, resource.KindSocket)
	if !ok {
		return nil, false
	}
	s, ok := e.Value.(*Socket)
	return s, ok
}

// Registered reports whether a handle is an active inbound registration
// in the dispatcher.
func (h *Host) Registered(handle resource.Handle) bool {
	return h.disp.registered(handle)
}

// Close stops the dispatcher and closes every comm handle.
func (h *Host) Close() error {
	h.disp.close()

	var handles []resource.Handle
	for _, k := range []resource.Kind{resource.KindMessageListener, resource.KindConnListener, resource.KindSocket} {
		handles = append(handles, h.resources.Handles(k)...)
	}

	var g errgroup.Group
	g.SetLimit(8)
	for _, handle := range handles {
		g.Go(func() error {
			_, err := h.closeHandle(handle)
			return err
		})
	}
	return g.Wait()
}

// transferResources picks the loopback or network resource pair for a
// peer address.
func transferResources(peer netip.Addr) (send, recv nanny.Name) {
	if peer.Unmap().IsLoopback() {
		return nanny.LoopSend, nanny.LoopRecv
	}
	return nanny.NetSend, nanny.NetRecv
}

func parseIP(s, what string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.InvalidArgument(errors.PhaseComm, "invalid %s %q", what, s)
	}
	return a.Unmap(), nil
}

func checkPort(p int, what string, allowZero bool) error {
	if (p == 0 && allowZero) || (p > 0 && p <= 65535) {
		return nil
	}
	return errors.InvalidArgument(errors.PhaseComm, "invalid %s %d, must be between 1 and 65535", what, p)
}

func (h *Host) checkLocalIP(a netip.Addr) error {
	if len(h.localIPs) == 0 || a.IsUnspecified() {
		return nil
	}
	if _, ok := h.localIPs[a]; ok {
		return nil
	}
	return errors.New(errors.PhaseComm, errors.KindResourceForbidden).
		Detail("local IP %s is not allowed", a).
		Value(a.String()).
		Build()
}

// claimListener reserves key for handle, failing if another
// registration holds it.
func (h *Host) claimListener(key listenKey, handle resource.Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.listeners[key]; busy {
		return errors.New(errors.PhaseComm, errors.KindAlreadyListening).
			Detail("already listening on %s/%s", key.local, key.proto).
			Build()
	}
	h.listeners[key] = handle
	return nil
}

func (h *Host) dropListener(key listenKey, handle resource.Handle) {
	h.mu.Lock()
	if h.listeners[key] == handle {
		delete(h.listeners, key)
	}
	h.mu.Unlock()
}

func (h *Host) listener(key listenKey) (resource.Handle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	handle, ok := h.listeners[key]
	return handle, ok
}
