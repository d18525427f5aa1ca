package led

import (
	"fmt"

	"github.com/bugg-resources/buggd/internal/fsutil"
)

// UserLED drives the single software-controlled LED on the compute module
// through sysfs. It is the only indicator available on a bare board with
// no expander fitted.
type UserLED struct {
	fsys fsutil.FileSystem
	path string
}

// DefaultUserLEDPath is the sysfs brightness node for the user LED.
const DefaultUserLEDPath = "/sys/class/leds/led0/brightness"

// NewUserLED creates a driver writing to the given brightness node.
func NewUserLED(fsys fsutil.FileSystem, path string) *UserLED {
	return &UserLED{fsys: fsys, path: path}
}

// Set switches the LED on or off.
func (u *UserLED) Set(on bool) error {
	v := []byte("0")
	if on {
		v = []byte("1")
	}
	if err := u.fsys.WriteFile(u.path, v, 0644); err != nil {
		return fmt.Errorf("led: user led: %w", err)
	}
	return nil
}
