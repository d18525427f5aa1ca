package recovery

import (
	"time"

	"github.com/bugg-resources/buggd/internal/timeutil"
)

// rebootHourUTC is the quiet hour for the daily maintenance reboot.
const rebootHourUTC = 2

// Schedule tracks whether the daily reboot time has been crossed since
// the last check. The check happens between capture cycles, so the
// reboot is naturally deferred past any in-flight processing.
type Schedule struct {
	clock timeutil.Clock
	last  time.Time
}

// NewSchedule starts tracking from now, so a daemon booted after 02:00
// does not immediately reboot again.
func NewSchedule(clock timeutil.Clock) *Schedule {
	return &Schedule{clock: clock, last: clock.Now()}
}

// Due reports whether 02:00 UTC has passed since the previous call.
// It fires at most once per crossing.
func (s *Schedule) Due() bool {
	now := s.clock.Now().UTC()
	target := time.Date(now.Year(), now.Month(), now.Day(), rebootHourUTC, 0, 0, 0, time.UTC)
	if target.After(now) {
		target = target.AddDate(0, 0, -1)
	}
	due := s.last.Before(target)
	s.last = now
	return due
}
