package relay

import (
	"net"
	"sync"
	"time"
)

const tunnelBufferSize = 4096

// TunnelOutcome reports why a TunnelTransfer ended.
type TunnelOutcome int

const (
	// TunnelDone means both directions ended (cleanly or on error)
	// before the idle deadline fired.
	TunnelDone TunnelOutcome = iota
	// TunnelTimedOut means the idle deadline fired while at least one
	// direction was still pending.
	TunnelTimedOut
)

// TunnelStats reports bytes moved per direction, for logging and
// metrics; it is best-effort (counts as of whichever moment the
// direction stopped).
type TunnelStats struct {
	UplinkBytes   int64
	DownlinkBytes int64
}

// TunnelTransfer runs the bidirectional copy between client and
// server, sharing one Deadline across both directions and a waiter
// goroutine, per spec.md §4.5. downlinkPrefix, if non-empty, is
// written to client before the server->client copy loop starts (used
// to forward HTTP CONNECT response surplus bytes as the first bytes
// of downlink data).
//
// Either a direction's natural completion (both ended) or the waiter
// firing tears down the whole transfer: closing both sockets is what
// unblocks a same-moment, in-flight Read/Write in the other direction,
// same as the teacher's closeState half-close bookkeeping in link.go
// and HakAl-langley's tunnel.go sync.Once-guarded closeAll.
func TunnelTransfer(client, server net.Conn, idleTimeout time.Duration, downlinkPrefix []byte) (TunnelOutcome, TunnelStats) {
	deadline := newDeadline(idleTimeout)
	stop := make(chan struct{})
	var stopOnce sync.Once
	signalStop := func() {
		stopOnce.Do(func() {
			close(stop)
			_ = client.Close()
			_ = server.Close()
		})
	}

	var wg sync.WaitGroup
	var stats TunnelStats
	directionsDone := make(chan struct{})

	wg.Add(2)
	go func() {
		defer wg.Done()
		stats.UplinkBytes = copyDirection(client, server, deadline, idleTimeout, nil)
	}()
	go func() {
		defer wg.Done()
		stats.DownlinkBytes = copyDirection(server, client, deadline, idleTimeout, downlinkPrefix)
	}()
	go func() {
		wg.Wait()
		close(directionsDone)
	}()

	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		deadline.wait(stop)
	}()

	var outcome TunnelOutcome
	select {
	case <-directionsDone:
		// Data-completion path wins the tie-break against a
		// simultaneously-firing waiter (spec.md §4.5 Tie-break).
		outcome = TunnelDone
	case <-waiterDone:
		select {
		case <-directionsDone:
			// Both directions also finished: data completion still wins.
			outcome = TunnelDone
		default:
			if deadline.expired() {
				outcome = TunnelTimedOut
			} else {
				outcome = TunnelDone
			}
		}
	}
	signalStop()
	wg.Wait()
	<-waiterDone

	return outcome, stats
}

// copyDirection implements one direction's read/write loop: re-arm the
// shared deadline whenever a read returns bytes and after every partial
// write that moves bytes, stop on EOF or error. The deadline is shared across both directions, so
// activity on either one keeps the whole tunnel alive; a per-socket
// read/write deadline would instead make one direction's silence fatal
// independent of the other's traffic, which is not the sliding
// semantics spec.md §5 describes. Cancellation is delivered only by
// closing the sockets (see TunnelTransfer's signalStop), which turns a
// blocked Read/Write here into an error that is swallowed: only byte
// counts are returned.
func copyDirection(from, to net.Conn, deadline *Deadline, idleTimeout time.Duration, prefix []byte) int64 {
	var total int64
	buf := make([]byte, tunnelBufferSize)

	if len(prefix) > 0 {
		n := writeChunk(to, prefix, deadline, idleTimeout)
		total += int64(n)
		if n < len(prefix) {
			return total
		}
	}

	for {
		n, err := from.Read(buf)
		if n > 0 {
			deadline.arm(idleTimeout)
			written := writeChunk(to, buf[:n], deadline, idleTimeout)
			total += int64(written)
			if written < n {
				return total
			}
		}
		if err != nil {
			return total
		}
	}
}

// writeChunk performs a partial-write loop for one read's worth of
// data, re-arming the shared deadline on every successful partial
// write, and returns the number of bytes actually written (less than
// len(data) signals the caller to stop).
func writeChunk(to net.Conn, data []byte, deadline *Deadline, idleTimeout time.Duration) int {
	written := 0
	for len(data) > 0 {
		n, err := to.Write(data)
		written += n
		data = data[n:]
		if n > 0 {
			deadline.arm(idleTimeout)
		}
		if err != nil {
			return written
		}
	}
	return written
}
