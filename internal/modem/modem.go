package modem

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/monitoring"
	"github.com/bugg-resources/buggd/internal/shell"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// RSSIUnknown is the modem's "no signal detectable" marker from AT+CSQ.
const RSSIUnknown = 99

const (
	// enumerationWait bounds how long PowerOn waits for the AT device
	// node to appear after raising the rail.
	enumerationWait = 15 * time.Second

	atTimeout = 2 * time.Second
)

// DefaultRailPath is the sysfs GPIO node for the modem power rail.
const DefaultRailPath = "/sys/class/gpio/gpio12/value"

// Modem drives the cellular modem. All hardware access goes through the
// injected runner, filesystem and port opener.
type Modem struct {
	runner shell.Runner
	fsys   fsutil.FileSystem
	clock  timeutil.Clock
	open   Opener

	// RailPath is the power rail GPIO node; DevicePath is the AT channel
	// the modem exposes once enumerated.
	RailPath   string
	DevicePath string
}

// New creates a modem controller with the production paths.
func New(runner shell.Runner, fsys fsutil.FileSystem, clock timeutil.Clock, open Opener) *Modem {
	return &Modem{
		runner:     runner,
		fsys:       fsys,
		clock:      clock,
		open:       open,
		RailPath:   DefaultRailPath,
		DevicePath: DefaultATDevice,
	}
}

// PowerOn raises the modem power rail and waits for enumeration. It
// reports whether a modem is present; a node with no modem fitted runs
// offline, which is not an error.
func (m *Modem) PowerOn() bool {
	if err := m.fsys.WriteFile(m.RailPath, []byte("1"), 0644); err != nil {
		monitoring.Logf("modem: rail on: %v", err)
		return false
	}

	deadline := m.clock.Now().Add(enumerationWait)
	for {
		if m.IsEnumerated() {
			monitoring.Logf("modem: enumerated at %s", m.DevicePath)
			return true
		}
		if !m.clock.Now().Before(deadline) {
			monitoring.Logf("modem: no modem enumerated after %v", enumerationWait)
			return false
		}
		m.clock.Sleep(time.Second)
	}
}

// TurnOnRail raises the power rail without waiting for enumeration. The
// bare-board test uses this to put voltage on the test points.
func (m *Modem) TurnOnRail() error {
	if err := m.fsys.WriteFile(m.RailPath, []byte("1"), 0644); err != nil {
		return fmt.Errorf("modem: rail on: %w", err)
	}
	return nil
}

// PowerOff drops the power rail.
func (m *Modem) PowerOff() {
	if err := m.fsys.WriteFile(m.RailPath, []byte("0"), 0644); err != nil {
		monitoring.Logf("modem: rail off: %v", err)
	}
}

// IsEnumerated reports whether the AT device node exists.
func (m *Modem) IsEnumerated() bool {
	return m.fsys.Exists(m.DevicePath)
}

// StopModemManager stops the system's ModemManager so the AT port is free
// for direct use. Needed before the factory test.
func (m *Modem) StopModemManager() error {
	if _, err := m.runner.Run("sudo", "systemctl", "stop", "ModemManager"); err != nil {
		return fmt.Errorf("modem: stop ModemManager: %w", err)
	}
	return nil
}

// sendAT writes one command and reads until a terminal OK/ERROR line or
// the timeout.
func (m *Modem) sendAT(port Port, cmd string) (string, error) {
	if err := port.SetReadTimeout(atTimeout); err != nil {
		return "", fmt.Errorf("modem: set timeout: %w", err)
	}
	if _, err := port.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("modem: write %s: %w", cmd, err)
	}

	var buf strings.Builder
	chunk := make([]byte, 256)
	started := m.clock.Now()
	for {
		n, err := port.Read(chunk)
		if err != nil {
			return buf.String(), fmt.Errorf("modem: read after %s: %w", cmd, err)
		}
		if n > 0 {
			buf.Write(chunk[:n])
			if strings.Contains(buf.String(), "OK") || strings.Contains(buf.String(), "ERROR") {
				return buf.String(), nil
			}
			continue
		}
		// Zero-byte read means the port-level timeout expired.
		if m.clock.Since(started) >= atTimeout {
			return buf.String(), nil
		}
	}
}

// IsResponding opens the AT port and checks for a basic AT -> OK exchange.
func (m *Modem) IsResponding() bool {
	port, err := m.open()
	if err != nil {
		monitoring.Logf("modem: %v", err)
		return false
	}
	defer port.Close()

	resp, err := m.sendAT(port, "AT")
	if err != nil {
		monitoring.Logf("modem: %v", err)
		return false
	}
	return strings.Contains(resp, "OK")
}

var ccidPattern = regexp.MustCompile(`(\d{18,22})`)

// SIMCCID returns the SIM's CCID, or an error when no SIM is readable.
func (m *Modem) SIMCCID() (string, error) {
	port, err := m.open()
	if err != nil {
		return "", err
	}
	defer port.Close()

	resp, err := m.sendAT(port, "AT+CCID")
	if err != nil {
		return "", err
	}
	match := ccidPattern.FindString(resp)
	if match == "" {
		return "", fmt.Errorf("modem: no CCID in response %q", strings.TrimSpace(resp))
	}
	return match, nil
}

var csqPattern = regexp.MustCompile(`\+CSQ:\s*(\d+)`)

// RSSI returns the raw signal quality from AT+CSQ. RSSIUnknown means the
// modem sees no signal.
func (m *Modem) RSSI() (int, error) {
	port, err := m.open()
	if err != nil {
		return RSSIUnknown, err
	}
	defer port.Close()

	resp, err := m.sendAT(port, "AT+CSQ")
	if err != nil {
		return RSSIUnknown, err
	}
	match := csqPattern.FindStringSubmatch(resp)
	if match == nil {
		return RSSIUnknown, fmt.Errorf("modem: no +CSQ in response %q", strings.TrimSpace(resp))
	}
	v, err := strconv.Atoi(match[1])
	if err != nil {
		return RSSIUnknown, fmt.Errorf("modem: parse CSQ: %w", err)
	}
	return v, nil
}

// PollRSSI polls the signal up to attempts times, one second apart,
// returning the first real reading. The attempt count is clamped to a
// minimum of one so the result is always a performed reading.
func (m *Modem) PollRSSI(attempts int) int {
	if attempts < 1 {
		attempts = 1
	}
	last := RSSIUnknown
	for i := 0; i < attempts; i++ {
		v, err := m.RSSI()
		if err != nil {
			monitoring.Logf("modem: rssi poll %d/%d: %v", i+1, attempts, err)
		} else {
			last = v
			if v != RSSIUnknown {
				return v
			}
		}
		if i < attempts-1 {
			m.clock.Sleep(time.Second)
		}
	}
	return last
}

// RSSIdBm converts a raw CSQ value to dBm. Returns false for the unknown
// marker.
func RSSIdBm(raw int) (int, bool) {
	if raw == RSSIUnknown || raw < 0 {
		return 0, false
	}
	return -113 + 2*raw, true
}
