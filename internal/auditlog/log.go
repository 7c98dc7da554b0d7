// Package auditlog provides the engine-level structured logger interface, mirroring the
// teacher's raftlog.Logger: a small leveled-logging facade over go.uber.org/zap so the engine
// never depends on zap's concrete types directly.
package auditlog

import (
	"go.uber.org/zap"
)

// Logger is the logging facade internal/engine depends on.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	V(level int) Verbose
}

// Verbose gates a log line on a verbosity level, the same shape as the teacher's
// eng.logger.V(1).Infof(...) call sites.
type Verbose interface {
	Infof(format string, args ...interface{})
}

// New wraps a *zap.SugaredLogger as a Logger. verbosity sets the highest V(level) that is
// actually emitted; raising it enables increasingly chatty diagnostics without touching call
// sites, the same knob the teacher's glog-based code exposes via -v.
func New(z *zap.SugaredLogger, verbosity int) Logger {
	if z == nil {
		z = zap.NewNop().Sugar()
	}
	return &logger{z: z, verbosity: verbosity}
}

// Noop returns a Logger that discards everything, for tests and embedders that don't care.
func Noop() Logger {
	return New(nil, 0)
}

type logger struct {
	z         *zap.SugaredLogger
	verbosity int
}

func (l *logger) Infof(format string, args ...interface{})    { l.z.Infof(format, args...) }
func (l *logger) Warningf(format string, args ...interface{}) { l.z.Warnf(format, args...) }
func (l *logger) Errorf(format string, args ...interface{})   { l.z.Errorf(format, args...) }
func (l *logger) Fatal(args ...interface{})                   { l.z.Fatal(args...) }

func (l *logger) V(level int) Verbose {
	if level > l.verbosity {
		return noopVerbose{}
	}
	return verbose{z: l.z}
}

type verbose struct{ z *zap.SugaredLogger }

func (v verbose) Infof(format string, args ...interface{}) { v.z.Infof(format, args...) }

type noopVerbose struct{}

func (noopVerbose) Infof(string, ...interface{}) {}
