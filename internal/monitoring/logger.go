package monitoring

import "log"

// Logf is the daemon-wide fallback logger for packages without a
// dedicated stream: hardware warnings, failed best-effort operations,
// anything that should land in the boot log but has no lifecycle role.
// It defaults to the standard logger, which LogFile tees into the
// per-boot file.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. Tests pass their own sink to assert on
// output, or nil to mute logging entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
