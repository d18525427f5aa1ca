// Package recovery handles the two ways the daemon deliberately restarts:
// the fatal-error blink-then-reboot and the scheduled daily reboot.
package recovery

import (
	"time"

	"github.com/bugg-resources/buggd/internal/hostinfo"
	"github.com/bugg-resources/buggd/internal/led"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/stopflag"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// DefaultBlinkDuration is how long the fatal pattern shows before the
// reboot, long enough for a field engineer to notice the failure state.
const DefaultBlinkDuration = 300 * time.Second

// Recovery drives the fatal-error path.
type Recovery struct {
	LEDs   *led.LEDs
	Clock  timeutil.Clock
	Runner shell.Runner
	Stop   *stopflag.Flag

	// RebootAllowed mirrors the device config. When false the blink
	// continues until shutdown instead of rebooting.
	RebootAllowed bool

	BlinkDuration time.Duration
}

// HandleFatal logs the error, blinks all three LEDs at 1 Hz for
// BlinkDuration and then reboots the host. With reboots disabled it
// blinks until Stop is set.
func (r *Recovery) HandleFatal(err error) {
	monitoring.Logf("fatal: %v", err)

	duration := r.BlinkDuration
	if duration <= 0 {
		duration = DefaultBlinkDuration
	}

	on := led.Status{Top: led.White, Middle: led.White, Bottom: led.White}
	off := led.Status{Top: led.Off, Middle: led.Off, Bottom: led.Off}

	start := r.Clock.Now()
	lit := false
	for {
		if r.Stop != nil && r.Stop.IsSet() {
			r.LEDs.AllOff()
			return
		}
		if r.RebootAllowed && r.Clock.Since(start) >= duration {
			break
		}
		lit = !lit
		if lit {
			r.LEDs.Apply(on)
		} else {
			r.LEDs.Apply(off)
		}
		r.Clock.Sleep(500 * time.Millisecond)
	}

	monitoring.Logf("fatal: rebooting after %v", duration)
	if err := hostinfo.Reboot(r.Runner); err != nil {
		monitoring.Logf("fatal: %v", err)
	}
}
