// Package rlog is the process-wide log sink: an initialized-once
// singleton wrapping a single logrus.Logger, with formatting output
// serialized by logrus's own mutex, per spec.md §9's Log state note.
package rlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/diogin/tcprelay/internal/relay"
)

// Level mirrors the CLI's --log_level surface.
type Level string

const (
	LevelTrace   Level = "trace"
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
	LevelDisable Level = "disable"
)

var base = logrus.New()

// Configure sets the process-wide log level. "disable" installs a
// discard writer so disabled logging costs nothing on the hot path,
// rather than filtering at each call site (SPEC_FULL.md §12).
func Configure(level Level) error {
	if level == LevelDisable {
		base.SetOutput(io.Discard)
		base.SetLevel(logrus.PanicLevel)
		return nil
	}
	base.SetOutput(os.Stderr)
	lvl, err := logrus.ParseLevel(string(level))
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// Sink implements relay.Logger and relay.Metrics-adjacent structured
// logging, stamping every line with the process's instance_id.
type Sink struct {
	instanceID string
	entry      *logrus.Entry
}

// NewSink returns a Sink that attaches instanceID to every line it
// emits (SPEC_FULL.md §10.3).
func NewSink(instanceID string) *Sink {
	return &Sink{
		instanceID: instanceID,
		entry:      base.WithField("instance_id", instanceID),
	}
}

func (s *Sink) SessionStart(id relay.SessionId, remoteAddr string) {
	s.entry.WithFields(logrus.Fields{
		"session_id":  uint64(id),
		"remote_addr": remoteAddr,
	}).Info("session started")
}

func (s *Sink) SessionEnd(id relay.SessionId, outcome string, stats relay.TunnelStats) {
	s.entry.WithFields(logrus.Fields{
		"session_id":     uint64(id),
		"outcome":        outcome,
		"uplink_bytes":   stats.UplinkBytes,
		"downlink_bytes": stats.DownlinkBytes,
	}).Info("session ended")
}

func (s *Sink) SessionError(id relay.SessionId, stage string, err error) {
	s.entry.WithFields(logrus.Fields{
		"session_id": uint64(id),
		"stage":      stage,
	}).WithError(err).Debug("session stage failed")
}

// Startup and Shutdown log the process lifecycle lines the CLI emits
// once, outside any single session.
func (s *Sink) Startup(listenAddr string, cfg relay.SessionConfig) {
	s.entry.WithFields(logrus.Fields{
		"listen_addr": listenAddr,
		"target":      cfg.Target.String(),
		"via":         cfg.Via.String(),
	}).Info("tcprelay starting")
}

func (s *Sink) Shutdown(reason string) {
	s.entry.WithField("reason", reason).Info("tcprelay shutting down")
}

// Warn is exposed for completeness: spec.md §9 notes the source
// defines a warn level but never emits it. This repo preserves that —
// nothing in the relay engine calls Warn — but keeps it reserved for
// callers (e.g. future CLI validation) that want it.
func (s *Sink) Warn(msg string, fields map[string]any) {
	s.entry.WithFields(fields).Warn(msg)
}
