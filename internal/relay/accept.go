package relay

import (
	"context"
	"net"
)

// AcceptLoop binds a listener and, for each accepted socket, assigns
// the next SessionId and spawns a detached RelaySession, per spec.md
// §4.7. It never terminates on an accept error; it terminates only
// when ctx is cancelled.
type AcceptLoop struct {
	Config    *SessionConfig
	Log       Logger
	Stats     Metrics
	NewDialer func() *OutboundDialer

	ids *sessionIdGenerator
}

// NewAcceptLoop builds an AcceptLoop sharing cfg across every session
// it spawns.
func NewAcceptLoop(cfg *SessionConfig) *AcceptLoop {
	return &AcceptLoop{
		Config:    cfg,
		Log:       noopLogger{},
		Stats:     noopMetrics{},
		NewDialer: NewOutboundDialer,
		ids:       newSessionIdGenerator(),
	}
}

// Serve binds listenAddr and runs the accept loop until ctx is
// cancelled. Accept errors are logged and retried; they are never
// fatal to the loop (spec.md §4.7/§7).
func (a *AcceptLoop) Serve(ctx context.Context, listenAddr string) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", listenAddr)
	if err != nil {
		return err
	}
	return a.ServeListener(ctx, listener)
}

// ServeListener runs the accept loop over an already-bound listener,
// closing it when ctx is cancelled.
func (a *AcceptLoop) ServeListener(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			a.Log.SessionError(0, "accept", err)
			continue
		}
		id := a.ids.next_()
		session := &RelaySession{
			ID:     id,
			Config: a.Config,
			Dialer: a.NewDialer(),
			Log:    a.Log,
			Stats:  a.Stats,
		}
		go session.Run(ctx, conn)
	}
}
