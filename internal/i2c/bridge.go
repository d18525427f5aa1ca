package i2c

import (
	"fmt"
	"time"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/timeutil"
)

// PCMD3180 controls the I2S bridge that carries the internal microphone.
// Power is a GPIO rail; configuration is a fixed register sequence pushed
// over the bus after every power-up.
type PCMD3180 struct {
	fsys   fsutil.FileSystem
	bus    Bus
	clock  timeutil.Clock
	writer BusWriter

	// RailPath is the sysfs GPIO value node for the bridge power rail.
	RailPath string
}

// BusWriter writes single registers on the bus. Split from Bus because
// only the bridge setup needs writes.
type BusWriter interface {
	WriteByte(addr uint8, reg uint8, value byte) error
}

// CmdBusWriter shells out to i2cset(8).
type CmdBusWriter struct {
	runner runner
	bus    int
}

type runner interface {
	Run(name string, args ...string) (string, error)
}

// NewCmdBusWriter creates a writer backed by i2cset.
func NewCmdBusWriter(r runner, bus int) *CmdBusWriter {
	return &CmdBusWriter{runner: r, bus: bus}
}

// WriteByte writes one register.
func (w *CmdBusWriter) WriteByte(addr uint8, reg uint8, value byte) error {
	_, err := w.runner.Run("i2cset", "-y",
		fmt.Sprintf("%d", w.bus),
		fmt.Sprintf("0x%02x", addr),
		fmt.Sprintf("0x%02x", reg),
		fmt.Sprintf("0x%02x", value))
	if err != nil {
		return fmt.Errorf("i2c: write 0x%02x reg 0x%02x: %w", addr, reg, err)
	}
	return nil
}

// DefaultBridgeRailPath is the sysfs node for the bridge power GPIO.
const DefaultBridgeRailPath = "/sys/class/gpio/gpio16/value"

// Register sequence bringing the bridge out of reset into 32-bit mono
// I2S output.
var bridgeSetup = []struct {
	reg   uint8
	value byte
}{
	{0x02, 0x81}, // wake, enable areas
	{0x07, 0x70}, // I2S, 32-bit word
	{0x3c, 0x10}, // channel 1 enable
	{0x74, 0xa0}, // power up ADC
}

// NewPCMD3180 creates a bridge controller.
func NewPCMD3180(fsys fsutil.FileSystem, bus Bus, writer BusWriter, clock timeutil.Clock) *PCMD3180 {
	return &PCMD3180{
		fsys:     fsys,
		bus:      bus,
		writer:   writer,
		clock:    clock,
		RailPath: DefaultBridgeRailPath,
	}
}

// PowerOn raises the power rail and waits for the part to settle.
func (p *PCMD3180) PowerOn() error {
	if err := p.fsys.WriteFile(p.RailPath, []byte("1"), 0644); err != nil {
		return fmt.Errorf("i2c: bridge rail on: %w", err)
	}
	p.clock.Sleep(100 * time.Millisecond)
	return nil
}

// PowerOff drops the power rail.
func (p *PCMD3180) PowerOff() error {
	if err := p.fsys.WriteFile(p.RailPath, []byte("0"), 0644); err != nil {
		return fmt.Errorf("i2c: bridge rail off: %w", err)
	}
	return nil
}

// Initialize pushes the register sequence. Must follow PowerOn.
func (p *PCMD3180) Initialize() error {
	for _, step := range bridgeSetup {
		if err := p.writer.WriteByte(AddrI2SBridge, step.reg, step.value); err != nil {
			return err
		}
	}
	return nil
}
