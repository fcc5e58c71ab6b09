package node

import (
	"github.com/btcsuite/btclog"
	"github.com/davecgh/go-spew/spew"
)

// log is this package's subsystem logger, disabled until main wires a real
// one in, the same per-package pattern every lnd subsystem follows.
var log = btclog.Disabled

// UseLogger installs l as the node package's subsystem logger.
func UseLogger(l btclog.Logger) {
	log = l
}

// DisableLog turns package logging back off.
func DisableLog() {
	log = btclog.Disabled
}

// logClosure defers an expensive dump until the log line is actually
// emitted at its level.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

// spewDump wraps spew.Sdump in a logClosure for trace-level state dumps.
func spewDump(v interface{}) logClosure {
	return func() string {
		return spew.Sdump(v)
	}
}
