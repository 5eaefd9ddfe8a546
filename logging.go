// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// logging.go wires structured logging for process lifecycle events onto github.com/joeycumines/logiface, backed by
// github.com/joeycumines/izerolog and github.com/rs/zerolog. The reference
// kernel has no logging of its own (console output is limited to panics and
// explicit printf calls); this package adds leveled, structured events at
// the points a production Go service would want them - process creation,
// termination, and kernel shutdown - without touching the scheduler's hot
// path (runOne, Sched, Sleep, Wakeup log nothing).

package kernel

import (
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// LogLevel is an alias of logiface.Level, so callers of this package can
// pass a level to NewLogger without importing logiface directly.
type LogLevel = logiface.Level

// Level constants: the subset of logiface's syslog-derived levels offered
// for NewLogger's level argument. The package itself emits only Info and
// Error events.
const (
	LevelDisabled = logiface.LevelDisabled
	LevelError    = logiface.LevelError
	LevelWarn     = logiface.LevelWarning
	LevelInfo     = logiface.LevelInformational
	LevelDebug    = logiface.LevelDebug
)

// Logger is this package's structured logger: a logiface.Logger bound to
// izerolog's zerolog-backed Event implementation.
type Logger = logiface.Logger[*izerolog.Event]

// NewLogger builds a Logger writing JSON lines to os.Stderr at the given
// minimum level, via izerolog.WithZerolog. Used by New when no WithLogger
// option is supplied.
func NewLogger(level LogLevel) (*Logger, error) {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return logiface.New[*izerolog.Event](
		izerolog.WithZerolog(zl),
		logiface.WithLevel[*izerolog.Event](level),
	), nil
}
