package relay

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestTunnelTransferEchoesUntilClose(t *testing.T) {
	clientSide, clientRemote := net.Pipe()
	serverSide, serverRemote := net.Pipe()
	defer clientRemote.Close()
	defer serverRemote.Close()

	// serverRemote echoes whatever it reads back to clientRemote via the
	// tunnel under test; clientRemote drives the conversation.
	go func() {
		buf := make([]byte, 64)
		for {
			n, err := serverRemote.Read(buf)
			if n > 0 {
				_, _ = serverRemote.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	done := make(chan struct {
		outcome TunnelOutcome
		stats   TunnelStats
	}, 1)
	go func() {
		outcome, stats := TunnelTransfer(clientSide, serverSide, time.Second, nil)
		done <- struct {
			outcome TunnelOutcome
			stats   TunnelStats
		}{outcome, stats}
	}()

	payload := []byte("hello relay")
	if _, err := clientRemote.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	readBack := make([]byte, len(payload))
	if _, err := io.ReadFull(clientRemote, readBack); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(readBack) != string(payload) {
		t.Fatalf("echoed %q, want %q", readBack, payload)
	}

	// Close both external ends so both tunnel directions see EOF and
	// finish cleanly, rather than leaving one direction blocked until
	// the idle deadline tears the transfer down instead.
	clientRemote.Close()
	serverRemote.Close()

	select {
	case r := <-done:
		if r.outcome != TunnelDone {
			t.Errorf("outcome = %v, want TunnelDone", r.outcome)
		}
		if r.stats.UplinkBytes == 0 {
			t.Error("UplinkBytes = 0, want > 0")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("TunnelTransfer never returned")
	}
}

func TestTunnelTransferTimesOutOnIdleConnection(t *testing.T) {
	clientSide, clientRemote := net.Pipe()
	serverSide, serverRemote := net.Pipe()
	defer clientRemote.Close()
	defer serverRemote.Close()

	done := make(chan TunnelOutcome, 1)
	go func() {
		outcome, _ := TunnelTransfer(clientSide, serverSide, 30*time.Millisecond, nil)
		done <- outcome
	}()

	select {
	case outcome := <-done:
		if outcome != TunnelTimedOut {
			t.Errorf("outcome = %v, want TunnelTimedOut", outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("TunnelTransfer never returned")
	}
}

func TestTunnelTransferForwardsDownlinkPrefix(t *testing.T) {
	clientSide, clientRemote := net.Pipe()
	serverSide, serverRemote := net.Pipe()
	defer clientRemote.Close()
	defer serverRemote.Close()

	prefix := []byte("surplus-bytes")
	done := make(chan TunnelStats, 1)
	go func() {
		_, stats := TunnelTransfer(clientSide, serverSide, time.Second, prefix)
		done <- stats
	}()

	readBack := make([]byte, len(prefix))
	if _, err := io.ReadFull(clientRemote, readBack); err != nil {
		t.Fatalf("read prefix: %v", err)
	}
	if string(readBack) != string(prefix) {
		t.Fatalf("prefix = %q, want %q", readBack, prefix)
	}

	clientRemote.Close()
	serverRemote.Close()
	<-done
}
