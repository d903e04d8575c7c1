// Package logging bridges external leveled loggers into the lgr-style Logf
// interface the framework logs through.
package logging

import (
	"strings"

	log "github.com/go-pkgz/lgr"
)

// Leveled is the surface embedders provide when they already carry their own
// leveled logger.
type Leveled interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Adapter routes Logf calls with level prefixes, bracketed or bare, to the
// matching Leveled method. Messages without a recognized prefix log at info.
type Adapter struct {
	dst Leveled
}

var _ log.L = (*Adapter)(nil)

// New makes an Adapter over the given destination.
func New(dst Leveled) *Adapter { return &Adapter{dst: dst} }

// Logf implements lgr.L.
func (a *Adapter) Logf(format string, args ...interface{}) {
	level, rest := splitLevel(format)
	switch level {
	case "TRACE", "DEBUG":
		a.dst.Debugf(rest, args...)
	case "WARN":
		a.dst.Warnf(rest, args...)
	case "ERROR", "PANIC", "FATAL":
		a.dst.Errorf(rest, args...)
	default:
		a.dst.Infof(rest, args...)
	}
}

// splitLevel peels a leading "[LEVEL]" or "LEVEL" marker off the format
// string. No marker returns an empty level and the format untouched.
func splitLevel(format string) (level, rest string) {
	for _, l := range []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "PANIC", "FATAL"} {
		for _, prefix := range []string{"[" + l + "]", l} {
			if strings.HasPrefix(format, prefix) {
				return l, strings.TrimSpace(format[len(prefix):])
			}
		}
	}
	return "", format
}
