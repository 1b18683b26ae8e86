// Package logctx wraps a *logrus.Entry with the decode-level gating named
// in spec section 6: a log line is only emitted when the Entry's single
// configured decode level permits it (one level covers every layer), so a
// quiet channel pays no formatting cost for frames nobody asked to see.
package logctx

import "github.com/sirupsen/logrus"

// Level mirrors master.DecodeLevel without importing the master package,
// keeping this an internal leaf with no dependency on the core it serves.
type Level int

const (
	Nothing Level = iota
	Header
	Payload
)

// Entry is a decode-level-gated logger scoped to one channel or
// association.
type Entry struct {
	log   *logrus.Entry
	level Level
}

// New wraps base with fields identifying the channel (and, once known, the
// association) every line will carry.
func New(base *logrus.Entry, channel string) *Entry {
	if base == nil {
		base = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Entry{log: base.WithField("channel", channel), level: Payload}
}

// WithAssociation returns a derived Entry tagging log lines with addr,
// inheriting the parent's decode level until SetLevel overrides it.
func (e *Entry) WithAssociation(addr string) *Entry {
	return &Entry{log: e.log.WithField("association", addr), level: e.level}
}

// SetLevel replaces the decode level gating this Entry's layer logging.
func (e *Entry) SetLevel(l Level) { e.level = l }

// Level returns the Entry's current decode level.
func (e *Entry) Level() Level { return e.level }

// Frame logs a line describing one physical/link/transport/app event, only
// if min is at or below the Entry's configured level.
func (e *Entry) Frame(min Level, format string, args ...any) {
	if e.level < min {
		return
	}
	if min >= Payload {
		e.log.Debugf(format, args...)
	} else {
		e.log.WithField("decode", min).Tracef(format, args...)
	}
}

// Warn always logs regardless of decode level: protocol violations and
// connection failures are never gated behind a verbosity knob.
func (e *Entry) Warn(args ...any) { e.log.Warn(args...) }

// WithError attaches err and returns the underlying *logrus.Entry for a
// one-off structured log call that doesn't fit the Frame/Warn shape.
func (e *Entry) WithError(err error) *logrus.Entry { return e.log.WithError(err) }

// Logrus returns the underlying *logrus.Entry, for handing to a component
// (such as master.NewChannel) that logs through the plain logrus API
// directly rather than through the decode-level gate.
func (e *Entry) Logrus() *logrus.Entry { return e.log }
