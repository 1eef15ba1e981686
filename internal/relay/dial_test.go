package relay

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

func testDialer() *OutboundDialer {
	return &OutboundDialer{
		dial:           defaultDial,
		resolveHost:    defaultResolve,
		resolveTimeout: time.Second,
		connectTimeout: time.Second,
	}
}

func loopbackListener(t *testing.T) net.Listener {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func acceptOnce(t *testing.T, l net.Listener) {
	t.Helper()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()
}

func TestOutboundDialerDialsResolvedAddress(t *testing.T) {
	l := loopbackListener(t)
	acceptOnce(t, l)

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := net.LookupPort("tcp", portStr)

	o := testDialer()
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP(host)}}, nil
	}

	conn, err := o.dialHostPort(context.Background(), HostPort{Host: "ignored", Port: uint16(port)})
	if err != nil {
		t.Fatalf("dialHostPort: %v", err)
	}
	conn.Close()
}

func TestOutboundDialerSkipsFailingEndpointThenSucceeds(t *testing.T) {
	l := loopbackListener(t)
	acceptOnce(t, l)

	goodHost, goodPort, _ := net.SplitHostPort(l.Addr().String())
	_ = goodPort

	dead := loopbackListener(t)
	deadAddr := dead.Addr().String()
	dead.Close() // nothing listens here anymore; connect will fail fast

	o := testDialer()
	var calls []string
	o.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		calls = append(calls, address)
		if len(calls) == 1 {
			// Both resolved IPs are 127.0.0.1 and the dialer joins them
			// with the same port, so route the first attempt to the
			// closed port to make that endpoint fail.
			address = deadAddr
		}
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		return []net.IPAddr{
			{IP: net.ParseIP(mustHost(deadAddr))},
			{IP: net.ParseIP(goodHost)},
		}, nil
	}

	port, _ := net.LookupPort("tcp", mustPort(l.Addr().String()))
	conn, err := o.dialHostPort(context.Background(), HostPort{Host: "ignored", Port: uint16(port)})
	if err != nil {
		t.Fatalf("dialHostPort: %v (calls=%v)", err, calls)
	}
	conn.Close()
	if len(calls) < 2 {
		t.Errorf("expected the dialer to try both endpoints, got calls=%v", calls)
	}
}

func TestOutboundDialerExhaustsEndpointsReturnsConnectFailed(t *testing.T) {
	dead := loopbackListener(t)
	deadAddr := dead.Addr().String()
	dead.Close()

	o := testDialer()
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP(mustHost(deadAddr))}}, nil
	}

	port, _ := net.LookupPort("tcp", mustPort(deadAddr))
	_, err := o.dialHostPort(context.Background(), HostPort{Host: "ignored", Port: uint16(port)})
	if err == nil {
		t.Fatal("expected ConnectFailedError, got nil")
	}
	var cfe *ConnectFailedError
	if !errors.As(err, &cfe) {
		t.Fatalf("err = %v (%T), want *ConnectFailedError", err, err)
	}
}

func TestOutboundDialerResolveFailure(t *testing.T) {
	o := testDialer()
	boom := errors.New("no such host")
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		return nil, boom
	}
	_, err := o.dialHostPort(context.Background(), HostPort{Host: "nope", Port: 80})
	var rfe *ResolveFailedError
	if !errors.As(err, &rfe) {
		t.Fatalf("err = %v (%T), want *ResolveFailedError", err, err)
	}
}

func TestOutboundDialerResolveTimeout(t *testing.T) {
	o := testDialer()
	o.resolveTimeout = 10 * time.Millisecond
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	_, err := o.dialHostPort(context.Background(), HostPort{Host: "slow", Port: 80})
	var rte *ResolveTimeoutError
	if !errors.As(err, &rte) {
		t.Fatalf("err = %v (%T), want *ResolveTimeoutError", err, err)
	}
}

func TestOutboundDialerConnectTimeoutIsAbsorbedNotFatal(t *testing.T) {
	l := loopbackListener(t)
	acceptOnce(t, l)
	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := net.LookupPort("tcp", portStr)

	o := testDialer()
	o.connectTimeout = 10 * time.Millisecond
	first := true
	o.dial = func(ctx context.Context, network, address string) (net.Conn, error) {
		if first {
			first = false
			<-ctx.Done()
			return nil, ctx.Err()
		}
		var d net.Dialer
		return d.DialContext(ctx, network, address)
	}
	o.resolveHost = func(ctx context.Context, h string) ([]net.IPAddr, error) {
		return []net.IPAddr{{IP: net.ParseIP(host)}, {IP: net.ParseIP(host)}}, nil
	}

	conn, err := o.dialHostPort(context.Background(), HostPort{Host: "ignored", Port: uint16(port)})
	if err != nil {
		t.Fatalf("expected the second endpoint to succeed, got err=%v", err)
	}
	conn.Close()
}

func mustHost(hostport string) string {
	h, _, _ := net.SplitHostPort(hostport)
	return h
}

func mustPort(hostport string) string {
	_, p, _ := net.SplitHostPort(hostport)
	return p
}
