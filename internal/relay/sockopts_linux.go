//go:build linux

package relay

import (
	"net"

	"golang.org/x/sys/unix"
)

// applyOptionalSocketTuning is a best-effort, Linux-only enhancement:
// it enables TCP_NODELAY (via the standard library) and nudges the
// kernel's delayed-ACK behavior off with TCP_QUICKACK, mirroring
// 32bitx64bit-HostIt's connutil tcp_linux.go SyscallConn pattern.
// Nothing here is required for correctness: spec.md §6 requires no
// socket options beyond defaults, so every error is swallowed and the
// connection is used exactly as dialed on failure.
func applyOptionalSocketTuning(conn net.Conn) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)

	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1)
	})
}
