package relay

import (
	"context"
	"net"
	"strconv"
	"time"
)

const (
	kResolveTimeout            = 20 * time.Second
	kConnectTimeout            = 20 * time.Second
	kHttpProxyHandshakeTimeout = 20 * time.Second
)

// dialFunc abstracts the low-level connect call so tests can substitute
// a fake without opening real sockets.
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// resolveFunc abstracts DNS resolution so tests can control the
// returned endpoint list without depending on a real resolver.
type resolveFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

// OutboundDialer resolves and connects to the address a session's
// SessionConfig points at (the proxy when Via is ViaHttpProxy, else the
// target), trying each resolved endpoint in order under its own
// Watchdog. Per spec.md §4.3, per-endpoint failures are absorbed and
// drive iteration; only exhaustion of the endpoint list is fatal.
type OutboundDialer struct {
	dial           dialFunc
	resolveHost    resolveFunc
	resolveTimeout time.Duration
	connectTimeout time.Duration
}

// NewOutboundDialer returns a dialer using real DNS resolution and TCP
// sockets, with the spec's default timeouts.
func NewOutboundDialer() *OutboundDialer {
	return &OutboundDialer{
		dial:           defaultDial,
		resolveHost:    defaultResolve,
		resolveTimeout: kResolveTimeout,
		connectTimeout: kConnectTimeout,
	}
}

func defaultDial(ctx context.Context, network, address string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, address)
}

func defaultResolve(ctx context.Context, host string) ([]net.IPAddr, error) {
	var resolver net.Resolver
	return resolver.LookupIPAddr(ctx, host)
}

// Dial resolves and connects to the config's dial target (proxy when
// Via is HttpProxy, else Target), returning a connected socket or a
// ResolveTimeoutError / ResolveFailedError / ConnectFailedError.
func (o *OutboundDialer) Dial(ctx context.Context, cfg *SessionConfig) (net.Conn, error) {
	dest := cfg.Target
	if cfg.Via == ViaHttpProxy {
		dest = cfg.Proxy
	}
	return o.dialHostPort(ctx, dest)
}

func (o *OutboundDialer) dialHostPort(ctx context.Context, dest HostPort) (net.Conn, error) {
	endpoints, err := o.resolve(ctx, dest)
	if err != nil {
		return nil, err
	}

	for _, ep := range endpoints {
		conn, timedOut := o.connectOne(ctx, ep)
		if conn != nil {
			applyOptionalSocketTuning(conn)
			return conn, nil
		}
		_ = timedOut // per-endpoint timeout does not abort the sequence
	}
	return nil, &ConnectFailedError{Target: dest, Attempts: len(endpoints)}
}

// resolve looks up dest under a Watchdog armed for o.resolveTimeout.
func (o *OutboundDialer) resolve(ctx context.Context, dest HostPort) ([]string, error) {
	var endpoints []string
	var resolveErr error
	timedOut, _ := awaitWithTimeout(o.resolveTimeout, func(watchCtx context.Context) error {
		joined, cancel := joinContexts(ctx, watchCtx)
		defer cancel()
		ips, err := o.resolveHost(joined, dest.Host)
		if err != nil {
			resolveErr = err
			return err
		}
		for _, ip := range ips {
			endpoints = append(endpoints, net.JoinHostPort(ip.String(), portString(dest.Port)))
		}
		if len(endpoints) == 0 {
			resolveErr = &net.AddrError{Err: "no addresses found", Addr: dest.Host}
			return resolveErr
		}
		return nil
	})
	if timedOut {
		return nil, &ResolveTimeoutError{Target: dest}
	}
	if resolveErr != nil {
		return nil, &ResolveFailedError{Target: dest, Cause: resolveErr}
	}
	return endpoints, nil
}

// connectOne attempts a single endpoint under a fresh Watchdog armed
// for o.connectTimeout, reporting only whether it timed out: the error
// itself is not propagated because endpoint failures are absorbed.
func (o *OutboundDialer) connectOne(ctx context.Context, endpoint string) (net.Conn, bool) {
	var conn net.Conn
	timedOut, _ := awaitWithTimeout(o.connectTimeout, func(watchCtx context.Context) error {
		joined, cancel := joinContexts(ctx, watchCtx)
		defer cancel()
		c, err := o.dial(joined, "tcp", endpoint)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, timedOut
}

func portString(p uint16) string {
	return strconv.FormatUint(uint64(p), 10)
}

// joinContexts produces a context cancelled when either input is
// cancelled, with a cancel func the caller must invoke to release the
// background goroutine once the operation is done.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
