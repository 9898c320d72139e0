package comm

import (
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/wippyai/sandbox-runtime/errors"
)

func TestMapNetError(t *testing.T) {
	opErr := func(errno syscall.Errno) error {
		return &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", errno)}
	}

	tests := []struct {
		name string
		err  error
		want errors.Kind
	}{
		{"in use", opErr(syscall.EADDRINUSE), errors.KindAddressInUse},
		{"refused", opErr(syscall.ECONNREFUSED), errors.KindConnectionRefused},
		{"reset", opErr(syscall.ECONNRESET), errors.KindSocketClosed},
		{"pipe", opErr(syscall.EPIPE), errors.KindSocketClosed},
		{"not local", opErr(syscall.EADDRNOTAVAIL), errors.KindInvalidArgument},
		{"denied", opErr(syscall.EACCES), errors.KindResourceForbidden},
		{"closed", net.ErrClosed, errors.KindSocketClosed},
		{"eof", fmt.Errorf("read: %w", io.EOF), errors.KindSocketClosed},
		{"timeout", os.ErrDeadlineExceeded, errors.KindTimeout},
		{"other", fmt.Errorf("boom"), errors.KindNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapNetError(tt.err)
			if k := errors.KindOf(got); k != tt.want {
				t.Errorf("kind = %q, want %q", k, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("cause %v not preserved in %v", tt.err, got)
			}
		})
	}

	if mapNetError(nil) != nil {
		t.Error("nil should map to nil")
	}
}
