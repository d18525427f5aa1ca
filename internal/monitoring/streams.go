package monitoring

import (
	"io"
	"log"
	"os"
)

// Leveled streams for pipeline telemetry. Ops is always on and carries the
// record/sync lifecycle; Diag carries per-artifact detail; Trace carries
// high-frequency chunk-level output and is discarded unless enabled.
var (
	opsf   = log.New(os.Stderr, "[ops] ", log.LstdFlags|log.LUTC)
	diagf  = log.New(os.Stderr, "[diag] ", log.LstdFlags|log.LUTC)
	tracef = log.New(io.Discard, "[trace] ", log.LstdFlags|log.LUTC)
)

// Opsf logs recorder/uploader lifecycle events.
func Opsf(format string, v ...interface{}) { opsf.Printf(format, v...) }

// Diagf logs per-artifact diagnostic detail.
func Diagf(format string, v ...interface{}) { diagf.Printf(format, v...) }

// Tracef logs chunk-level events. Discarded unless trace output is enabled.
func Tracef(format string, v ...interface{}) { tracef.Printf(format, v...) }

// SetStreamWriters redirects the leveled streams. A nil writer leaves the
// corresponding stream unchanged.
func SetStreamWriters(ops, diag, trace io.Writer) {
	if ops != nil {
		opsf.SetOutput(ops)
	}
	if diag != nil {
		diagf.SetOutput(diag)
	}
	if trace != nil {
		tracef.SetOutput(trace)
	}
}

// EnableTrace turns on the trace stream to stderr.
func EnableTrace() {
	tracef.SetOutput(os.Stderr)
}
