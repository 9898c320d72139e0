//go:build !unix

package comm

import (
	"net"
	"syscall"
)

var listenConfig = net.ListenConfig{}

func reuseAddr(string, string, syscall.RawConn) error { return nil }
