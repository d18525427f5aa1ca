// Package i2c probes devices on the control bus. The daemon never speaks
// full register protocols here; it only needs to know which devices
// acknowledge their address, which is what the factory test checks.
package i2c

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/bugg-resources/buggd/internal/shell"
)

// Well-known device addresses on bus 1.
const (
	BusNumber         = 1
	AddrI2SBridge     = 0x4c
	AddrRTC           = 0x68
	AddrLEDController = 0x23
)

// ErrBusy indicates the device acknowledged but is held by a kernel
// driver. For presence detection this is a positive result.
var ErrBusy = errors.New("i2c: device busy")

// Bus reads from devices on an I2C bus.
type Bus interface {
	// ReadByte reads one byte from the device at addr.
	ReadByte(addr uint8) (byte, error)
}

// CmdBus shells out to i2cget(8). Avoids holding the bus open and works
// on any kernel with i2c-dev loaded.
type CmdBus struct {
	runner shell.Runner
	bus    int
}

// NewCmdBus creates a bus backed by i2cget on the given bus number.
func NewCmdBus(runner shell.Runner, bus int) *CmdBus {
	return &CmdBus{runner: runner, bus: bus}
}

// ReadByte reads one byte from the device. A "Device or resource busy"
// failure maps to ErrBusy.
func (b *CmdBus) ReadByte(addr uint8) (byte, error) {
	out, err := b.runner.Run("i2cget", "-y",
		strconv.Itoa(b.bus), fmt.Sprintf("0x%02x", addr))
	if err != nil {
		if strings.Contains(strings.ToLower(out), "busy") || strings.Contains(strings.ToLower(err.Error()), "busy") {
			return 0, ErrBusy
		}
		return 0, fmt.Errorf("i2c: read 0x%02x: %w", addr, err)
	}

	v, perr := strconv.ParseUint(strings.TrimSpace(out), 0, 8)
	if perr != nil {
		return 0, fmt.Errorf("i2c: read 0x%02x: unexpected output %q", addr, out)
	}
	return byte(v), nil
}

// DevicePresent probes addr by attempting a read. A busy device counts as
// present: it acknowledged even though a driver holds it.
func DevicePresent(bus Bus, addr uint8) bool {
	_, err := bus.ReadByte(addr)
	return err == nil || errors.Is(err, ErrBusy)
}

// MockBus is an in-memory bus for tests.
type MockBus struct {
	mu      sync.Mutex
	Devices map[uint8]byte
	Busy    map[uint8]bool
	Reads   []uint8
}

// NewMockBus creates an empty mock bus.
func NewMockBus() *MockBus {
	return &MockBus{
		Devices: make(map[uint8]byte),
		Busy:    make(map[uint8]bool),
	}
}

// ReadByte returns the canned byte, ErrBusy for busy devices and a
// not-present error otherwise.
func (m *MockBus) ReadByte(addr uint8) (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Reads = append(m.Reads, addr)

	if m.Busy[addr] {
		return 0, ErrBusy
	}
	if v, ok := m.Devices[addr]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("i2c: read 0x%02x: no ack", addr)
}
