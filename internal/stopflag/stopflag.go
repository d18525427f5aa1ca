// Package stopflag provides the shared shutdown signal observed by every
// long-running loop in the daemon.
package stopflag

import "sync/atomic"

// Flag is a monotonic shutdown signal: once set it is never cleared. Loops
// poll it at iteration boundaries, so setting the flag guarantees every loop
// exits after completing at most one more in-flight item.
type Flag struct {
	set atomic.Bool
}

// New returns an unset flag.
func New() *Flag {
	return &Flag{}
}

// Set marks the flag. Safe to call from any goroutine, any number of times.
func (f *Flag) Set() {
	f.set.Store(true)
}

// IsSet reports whether the flag has been set.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}
