// Package log is the central logging backend for plasma-sim. It mirrors
// lnd.go's use of a single btclog.Backend shared by every subsystem: the
// executor and node packages each declare a package-level logger defaulting
// to btclog.Disabled with a UseLogger setter, and main() wires a real
// logger into both once flags are parsed.
package log

import (
	"io"
	"os"

	"github.com/btcsuite/btclog"
)

// Backend is the shared btclog backend every subsystem logger is derived
// from, exactly as lnd.go's backendLog is shared by ltndLog and friends.
var Backend = btclog.NewBackend(logWriter{})

// logWriter wraps the standard output stream so the backend can be
// redirected to a file without every subsystem needing to know about it.
type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	return os.Stdout.Write(p)
}

// SetOutput replaces Backend with a new backend writing to w; loggers
// obtained from SubLogger afterwards write there.
func SetOutput(w io.Writer) {
	Backend = btclog.NewBackend(w)
}

// SubLogger returns a new logger for the named subsystem at the given
// level, the same two-argument shape every lnd package's UseLogger takes.
func SubLogger(subsystem string, level btclog.Level) btclog.Logger {
	l := Backend.Logger(subsystem)
	l.SetLevel(level)
	return l
}
