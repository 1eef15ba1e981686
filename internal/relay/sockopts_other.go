//go:build !linux

package relay

import "net"

// applyOptionalSocketTuning is a no-op on non-Linux platforms: there is
// no TCP_QUICKACK equivalent to reach for, and TCP_NODELAY is already
// net.TCPConn's default, so defaults alone satisfy spec.md §6.
func applyOptionalSocketTuning(conn net.Conn) {}
