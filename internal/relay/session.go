package relay

import (
	"context"
	"net"
	"time"
)

// Logger is the structured logging surface RelaySession needs; the
// concrete implementation lives in internal/rlog so this package stays
// free of a direct logrus dependency.
type Logger interface {
	SessionStart(id SessionId, remoteAddr string)
	SessionEnd(id SessionId, outcome string, stats TunnelStats)
	SessionError(id SessionId, stage string, err error)
}

// Metrics is the counters/gauges surface RelaySession reports to; the
// concrete implementation lives in internal/metrics.
type Metrics interface {
	SessionStarted()
	SessionEnded(duration time.Duration)
	DialError()
	HandshakeError()
	TimedOut()
	BytesTransferred(direction Direction, n int64)
}

type noopLogger struct{}

func (noopLogger) SessionStart(SessionId, string)           {}
func (noopLogger) SessionEnd(SessionId, string, TunnelStats) {}
func (noopLogger) SessionError(SessionId, string, error)    {}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()                   {}
func (noopMetrics) SessionEnded(time.Duration)        {}
func (noopMetrics) DialError()                        {}
func (noopMetrics) HandshakeError()                   {}
func (noopMetrics) TimedOut()                         {}
func (noopMetrics) BytesTransferred(Direction, int64) {}

// RelaySession is the per-connection driver composing OutboundDialer,
// the optional HttpConnectHandshake, and TunnelTransfer, per spec.md
// §4.6. It owns client_socket for its whole lifetime and server_socket
// from a successful dial until Run returns.
type RelaySession struct {
	ID     SessionId
	Config *SessionConfig
	Dialer *OutboundDialer
	Log    Logger
	Stats  Metrics
}

// NewRelaySession builds a session with default (real) collaborators;
// Log/Stats default to no-ops so callers that don't care about
// observability don't need to wire anything.
func NewRelaySession(id SessionId, cfg *SessionConfig) *RelaySession {
	return &RelaySession{
		ID:     id,
		Config: cfg,
		Dialer: NewOutboundDialer(),
		Log:    noopLogger{},
		Stats:  noopMetrics{},
	}
}

// Run drives one session to completion: dial, optional CONNECT
// handshake, tunnel transfer, then unconditional socket close. All
// internal errors are absorbed here; the accept loop is never notified
// of individual session failures (spec.md §4.6/§7).
func (s *RelaySession) Run(ctx context.Context, client net.Conn) {
	defer client.Close()
	start := time.Now()
	s.Log.SessionStart(s.ID, client.RemoteAddr().String())
	s.Stats.SessionStarted()
	defer func() {
		s.Stats.SessionEnded(time.Since(start))
	}()

	server, err := s.Dialer.Dial(ctx, s.Config)
	if err != nil {
		s.Stats.DialError()
		s.Log.SessionError(s.ID, "dial", err)
		return
	}
	defer server.Close()

	var downlinkPrefix []byte
	if s.Config.Via == ViaHttpProxy {
		surplus, err := HttpConnectHandshake(ctx, server, s.Config.Target)
		if err != nil {
			s.Stats.HandshakeError()
			s.Log.SessionError(s.ID, "handshake", err)
			return
		}
		downlinkPrefix = surplus
	}

	idleTimeout := time.Duration(s.Config.IdleTimeoutSeconds) * time.Second
	outcome, stats := TunnelTransfer(client, server, idleTimeout, downlinkPrefix)
	if outcome == TunnelTimedOut {
		s.Stats.TimedOut()
	}
	s.Stats.BytesTransferred(Uplink, stats.UplinkBytes)
	s.Stats.BytesTransferred(Downlink, stats.DownlinkBytes)

	s.Log.SessionEnd(s.ID, outcomeString(outcome), stats)
}

func outcomeString(o TunnelOutcome) string {
	switch o {
	case TunnelDone:
		return "done"
	case TunnelTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}
