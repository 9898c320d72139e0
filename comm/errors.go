package comm

import (
	stderrors "errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/wippyai/sandbox-runtime/errors"
)

// mapNetError converts Go net package errors to comm errors.
func mapNetError(err error) error {
	if err == nil {
		return nil
	}

	if stderrors.Is(err, net.ErrClosed) || stderrors.Is(err, io.EOF) {
		return errors.Wrap(errors.PhaseComm, errors.KindSocketClosed, err, "socket is closed")
	}

	var errno syscall.Errno
	if stderrors.As(err, &errno) {
		return mapErrno(errno, err)
	}

	var addrErr *net.AddrError
	if stderrors.As(err, &addrErr) {
		return errors.Wrap(errors.PhaseComm, errors.KindInvalidArgument, err, "invalid address")
	}

	if os.IsTimeout(err) {
		return errors.Wrap(errors.PhaseComm, errors.KindTimeout, err, "operation timed out")
	}

	if os.IsPermission(err) {
		return errors.Wrap(errors.PhaseComm, errors.KindResourceForbidden, err, "access denied")
	}

	return errors.Wrap(errors.PhaseComm, errors.KindNetwork, err, "network error")
}

// mapErrno converts syscall.Errno to comm errors.
func mapErrno(errno syscall.Errno, cause error) error {
	var (
		kind   errors.Kind
		detail string
	)
	switch errno {
	case syscall.EADDRINUSE:
		kind, detail = errors.KindAddressInUse, "address already in use"
	case syscall.EADDRNOTAVAIL:
		kind, detail = errors.KindInvalidArgument, "address is not local"
	case syscall.ECONNREFUSED:
		kind, detail = errors.KindConnectionRefused, "connection refused"
	case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.EPIPE, syscall.ENOTCONN:
		kind, detail = errors.KindSocketClosed, "connection terminated"
	case syscall.ETIMEDOUT:
		kind, detail = errors.KindTimeout, "connection timed out"
	case syscall.EACCES, syscall.EPERM:
		kind, detail = errors.KindResourceForbidden, "access denied"
	case syscall.EINVAL:
		kind, detail = errors.KindInvalidArgument, "invalid argument"
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH:
		kind, detail = errors.KindNetwork, "destination unreachable"
	default:
		kind, detail = errors.KindNetwork, errno.Error()
	}
	return errors.Wrap(errors.PhaseComm, kind, cause, detail)
}
