package comm

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// sendChunk caps how much a single Send hands to the kernel.
const sendChunk = 64 * 1024

// Socket is a connected TCP socket owned by the sandbox.
type Socket struct {
	host   *Host
	handle resource.Handle
	conn   *net.TCPConn
	local  netip.AddrPort
	remote netip.AddrPort
	closed atomic.Bool
}

func newSocket(h *Host, handle resource.Handle, conn *net.TCPConn) *Socket {
	s := &Socket{host: h, handle: handle, conn: conn}
	if a, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		s.local = a.AddrPort()
	}
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		s.remote = a.AddrPort()
	}
	return s
}

// Handle returns the socket's handle.
func (s *Socket) Handle() resource.Handle { return s.handle }

// LocalAddr returns the local endpoint.
func (s *Socket) LocalAddr() netip.AddrPort { return s.local }

// RemoteAddr returns the peer endpoint.
func (s *Socket) RemoteAddr() netip.AddrPort { return s.remote }

// Send writes as much of data as the socket accepts in one call, up to
// one send buffer, and returns the number of bytes written.
func (s *Socket) Send(ctx context.Context, data []byte) (int, error) {
	if s.closed.Load() {
		return 0, errors.SocketClosed("socket is closed")
	}
	send, _ := transferResources(s.remote.Addr())
	if err := s.host.nanny.AdmitQuantity(send, 0); err != nil {
		return 0, err
	}

	if len(data) > sendChunk {
		data = data[:sendChunk]
	}
	stop := s.bind(ctx, s.conn.SetWriteDeadline)
	n, err := s.conn.Write(data)
	stop()

	if n > 0 {
		if aerr := s.host.nanny.AdmitQuantity(send, float64(n)); aerr != nil {
			return n, aerr
		}
	}
	if err != nil {
		return n, s.mapErr(ctx, err)
	}
	return n, nil
}

// Recv reads up to size bytes. A closed connection is reported as
// SocketClosed.
func (s *Socket) Recv(ctx context.Context, size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseComm, "receive size must be positive, got %d", size)
	}
	if s.closed.Load() {
		return nil, errors.SocketClosed("socket is closed")
	}
	_, recv := transferResources(s.remote.Addr())
	if err := s.host.nanny.AdmitQuantity(recv, 0); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	stop := s.bind(ctx, s.conn.SetReadDeadline)
	n, err := s.conn.Read(buf)
	stop()

	if n > 0 {
		if aerr := s.host.nanny.AdmitQuantity(recv, float64(n)); aerr != nil {
			return nil, aerr
		}
		return buf[:n], nil
	}
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil, errors.SocketClosed("connection closed by peer")
	}
	return nil, s.mapErr(ctx, err)
}

// WillBlock reports whether Recv and Send would block right now.
func (s *Socket) WillBlock() (recv, send bool, err error) {
	if s.closed.Load() {
		return false, false, errors.SocketClosed("socket is closed")
	}
	fd, err := socketFD(s.conn)
	if err != nil {
		return false, false, mapNetError(err)
	}
	readable, writable, err := pollNow(fd)
	if err != nil {
		return false, false, mapNetError(err)
	}
	return !readable, !writable, nil
}

// Close closes the socket. It returns true only for the call that
// closed it.
func (s *Socket) Close() bool {
	return s.host.StopComm(s.handle)
}

// bind applies ctx's deadline and cancellation to one I/O call.
func (s *Socket) bind(ctx context.Context, set func(time.Time) error) func() {
	dl, _ := ctx.Deadline()
	set(dl)
	stop := context.AfterFunc(ctx, func() { set(time.Unix(1, 0)) })
	return func() { stop() }
}

func (s *Socket) mapErr(ctx context.Context, err error) error {
	if s.closed.Load() || stderrors.Is(err, net.ErrClosed) {
		return errors.SocketClosed("socket is closed")
	}
	if ctx.Err() != nil && !stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ctx.Err()
	}
	return mapNetError(err)
}

// Drop closes a socket the handle table still holds at teardown.
func (s *Socket) Drop() {
	_ = s.shutdown()
	s.host.nanny.ReleaseItem(nanny.OutSockets, s.handle)
}

func (s *Socket) shutdown() error {
	s.closed.Store(true)
	_ = s.conn.CloseWrite()
	return s.conn.Close()
}
